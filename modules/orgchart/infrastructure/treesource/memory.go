package treesource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	nanoid "github.com/matoous/go-nanoid/v2"

	"github.com/iota-uz/orgchart/modules/orgchart/domain/hierarchy"
	"github.com/iota-uz/orgchart/modules/orgchart/domain/orggraph"
	"github.com/iota-uz/orgchart/modules/orgchart/services"
)

const recordIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// Seed is the on-disk shape of a MemorySource fixture. Users backs AssignUser lookups.
type Seed struct {
	Records     []hierarchy.Record                `json:"records"`
	Permissions hierarchy.Permissions             `json:"permissions"`
	Users       map[string]hierarchy.UserSnapshot `json:"users,omitempty"`
}

func LoadSeed(path string) (Seed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("read seed: %w", err)
	}
	var seed Seed
	if err := json.Unmarshal(raw, &seed); err != nil {
		return Seed{}, fmt.Errorf("parse seed %s: %w", path, err)
	}
	return seed, nil
}

// MemorySource is an in-process tree source used by the dev server and the CLI.
// It enforces the same rules the remote API does, so rejected edits surface as ErrServer.
type MemorySource struct {
	mu      sync.Mutex
	records []hierarchy.Record
	canEdit bool
	users   map[string]hierarchy.UserSnapshot
	failing map[string]error
}

var _ services.TreeSource = (*MemorySource)(nil)

func NewMemorySource(seed Seed) *MemorySource {
	users := make(map[string]hierarchy.UserSnapshot, len(seed.Users))
	for id, u := range seed.Users {
		users[id] = u
	}
	return &MemorySource{
		records: hierarchy.CloneRecords(seed.Records),
		canEdit: seed.Permissions.CanEdit,
		users:   users,
		failing: map[string]error{},
	}
}

// FailNext makes the next call of op return err. Op names match the HTTP routes:
// tree, create, delete, title, user, status, role-title, ceo.
func (m *MemorySource) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing[op] = err
}

func (m *MemorySource) takeFailure(op string) error {
	err, ok := m.failing[op]
	if !ok {
		return nil
	}
	delete(m.failing, op)
	return err
}

func (m *MemorySource) indexOf(id string) int {
	for i := range m.records {
		if m.records[i].ID == id {
			return i
		}
	}
	return -1
}

func notFound(id string) error {
	return services.NewServerError(http.StatusNotFound, "ORG_NODE_NOT_FOUND", fmt.Sprintf("node %s not found", id))
}

func forbidden() error {
	return services.NewServerError(http.StatusForbidden, "ORG_FORBIDDEN", "editing is not allowed")
}

// precheck runs the preconditions shared by every call. Callers hold mu.
func (m *MemorySource) precheck(op string, mutating bool) error {
	if err := m.takeFailure(op); err != nil {
		return err
	}
	if mutating && !m.canEdit {
		return forbidden()
	}
	return nil
}

func (m *MemorySource) FetchTree(ctx context.Context) (hierarchy.Tree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.precheck("tree", false); err != nil {
		return hierarchy.Tree{}, err
	}
	return hierarchy.Tree{
		Records:     hierarchy.CloneRecords(m.records),
		Permissions: hierarchy.Permissions{CanEdit: m.canEdit},
	}, nil
}

func (m *MemorySource) CreateNode(ctx context.Context, in services.CreateNodeInput) (hierarchy.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.precheck("create", true); err != nil {
		return hierarchy.Record{}, err
	}
	parent := m.indexOf(in.ParentID)
	if parent < 0 {
		return hierarchy.Record{}, notFound(in.ParentID)
	}
	if k := m.records[parent].Kind; k == hierarchy.KindUser {
		return hierarchy.Record{}, services.NewServerError(http.StatusUnprocessableEntity, "ORG_INVALID_PARENT", "users cannot have children")
	}
	id, err := nanoid.Generate(recordIDAlphabet, 10)
	if err != nil {
		return hierarchy.Record{}, fmt.Errorf("generate id: %w", err)
	}
	rec := hierarchy.Record{
		ID:       "n" + id,
		ParentID: hierarchy.StringPtr(in.ParentID),
		Kind:     in.Kind,
		Title:    strings.TrimSpace(in.Title),
	}
	m.records = append(m.records, rec)
	return rec.Clone(), nil
}

func (m *MemorySource) DeleteNode(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.precheck("delete", true); err != nil {
		return err
	}
	i := m.indexOf(id)
	if i < 0 {
		return notFound(id)
	}
	if m.records[i].IsRoot() {
		return services.NewServerError(http.StatusUnprocessableEntity, "ORG_ROOT_DELETE", "the root cannot be deleted")
	}
	doomed := map[string]bool{id: true}
	for changed := true; changed; {
		changed = false
		for _, r := range m.records {
			if doomed[r.ID] || r.IsRoot() {
				continue
			}
			if doomed[*r.ParentID] {
				doomed[r.ID] = true
				changed = true
			}
		}
	}
	kept := m.records[:0]
	for _, r := range m.records {
		if !doomed[r.ID] {
			kept = append(kept, r)
		}
	}
	m.records = kept
	return nil
}

func (m *MemorySource) update(op, id string, fn func(r *hierarchy.Record) error) (hierarchy.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.precheck(op, true); err != nil {
		return hierarchy.Record{}, err
	}
	i := m.indexOf(id)
	if i < 0 {
		return hierarchy.Record{}, notFound(id)
	}
	if err := fn(&m.records[i]); err != nil {
		return hierarchy.Record{}, err
	}
	return m.records[i].Clone(), nil
}

func (m *MemorySource) RenameNode(ctx context.Context, id, title string) (hierarchy.Record, error) {
	return m.update("title", id, func(r *hierarchy.Record) error {
		r.Title = strings.TrimSpace(title)
		return nil
	})
}

func (m *MemorySource) AssignUser(ctx context.Context, id, userID string) (hierarchy.Record, error) {
	return m.update("user", id, func(r *hierarchy.Record) error {
		u, ok := m.users[userID]
		if !ok {
			return services.NewServerError(http.StatusUnprocessableEntity, "ORG_USER_NOT_FOUND", fmt.Sprintf("user %s not found", userID))
		}
		r.BoundUserID = hierarchy.StringPtr(userID)
		r.BoundUser = &u
		return nil
	})
}

func (m *MemorySource) SetStatus(ctx context.Context, id string, status hierarchy.Status) error {
	_, err := m.update("status", id, func(r *hierarchy.Record) error {
		if !r.HasBoundUser() {
			return services.NewServerError(http.StatusUnprocessableEntity, "ORG_NO_USER", "status requires a bound user")
		}
		r.Status = &status
		return nil
	})
	return err
}

func (m *MemorySource) SetRoleTitle(ctx context.Context, id, roleTitle string) (hierarchy.Record, error) {
	return m.update("role-title", id, func(r *hierarchy.Record) error {
		r.RoleTitle = nil
		if t := strings.TrimSpace(roleTitle); t != "" {
			r.RoleTitle = hierarchy.StringPtr(t)
		}
		return nil
	})
}

// SetCEO moves the CEO title: any other record carrying it loses its role title.
func (m *MemorySource) SetCEO(ctx context.Context, id string) (hierarchy.Record, error) {
	return m.update("ceo", id, func(r *hierarchy.Record) error {
		for j := range m.records {
			rt := m.records[j].RoleTitle
			if m.records[j].ID != id && rt != nil && orggraph.IsCEOTitle(*rt) {
				m.records[j].RoleTitle = nil
			}
		}
		r.RoleTitle = hierarchy.StringPtr(orggraph.CEOLabel)
		return nil
	})
}

// Users returns a copy of the seeded user directory.
func (m *MemorySource) Users() map[string]hierarchy.UserSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]hierarchy.UserSnapshot, len(m.users))
	for id, u := range m.users {
		out[id] = u
	}
	return out
}
