package services

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/iota-uz/orgchart/modules/orgchart/domain/hierarchy"
	"github.com/iota-uz/orgchart/modules/orgchart/domain/orggraph"
)

// fakeSource is an in-memory tree source with per-operation failure injection.
type fakeSource struct {
	mu      sync.Mutex
	records []hierarchy.Record
	canEdit bool
	users   map[string]hierarchy.UserSnapshot
	fail    map[string]error
	calls   map[string]int
	nextID  int
	// gate, when set, blocks every mutating call until it is closed or receives.
	gate chan struct{}
	// createOverride replaces the record returned by CreateNode.
	createOverride *hierarchy.Record
}

func newFakeSource(records []hierarchy.Record, canEdit bool) *fakeSource {
	return &fakeSource{
		records: hierarchy.CloneRecords(records),
		canEdit: canEdit,
		users: map[string]hierarchy.UserSnapshot{
			"u-dave": {Name: "Dave", Email: "dave@acme.io"},
		},
		fail:  map[string]error{},
		calls: map[string]int{},
	}
}

func (f *fakeSource) enter(op string) error {
	f.mu.Lock()
	f.calls[op]++
	gate := f.gate
	err := f.fail[op]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return err
}

func (f *fakeSource) failWith(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] = err
}

func (f *fakeSource) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeSource) totalMutatingCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for op, n := range f.calls {
		if op != "fetch" && op != "fetch_fresh" {
			total += n
		}
	}
	return total
}

func (f *fakeSource) find(id string) (int, error) {
	for i := range f.records {
		if f.records[i].ID == id {
			return i, nil
		}
	}
	return -1, NewServerError(http.StatusNotFound, "NOT_FOUND", "node not found")
}

func (f *fakeSource) FetchTree(ctx context.Context) (hierarchy.Tree, error) {
	f.mu.Lock()
	f.calls["fetch"]++
	if IsFreshRead(ctx) {
		f.calls["fetch_fresh"]++
	}
	err := f.fail["fetch"]
	f.mu.Unlock()
	if err != nil {
		return hierarchy.Tree{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return hierarchy.Tree{Records: hierarchy.CloneRecords(f.records), Permissions: hierarchy.Permissions{CanEdit: f.canEdit}}, nil
}

func (f *fakeSource) CreateNode(ctx context.Context, in CreateNodeInput) (hierarchy.Record, error) {
	if err := f.enter("create"); err != nil {
		return hierarchy.Record{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createOverride != nil {
		return f.createOverride.Clone(), nil
	}
	f.nextID++
	rec := hierarchy.Record{
		ID:       fmt.Sprintf("rec-%d", f.nextID),
		ParentID: hierarchy.StringPtr(in.ParentID),
		Kind:     in.Kind,
		Title:    in.Title,
	}
	f.records = append(f.records, rec)
	return rec.Clone(), nil
}

func (f *fakeSource) DeleteNode(ctx context.Context, id string) error {
	if err := f.enter("delete"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	w := &working{records: f.records}
	w.removeSubtree(id)
	f.records = w.records
	return nil
}

func (f *fakeSource) update(op, id string, fn func(r *hierarchy.Record)) (hierarchy.Record, error) {
	if err := f.enter(op); err != nil {
		return hierarchy.Record{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	i, err := f.find(id)
	if err != nil {
		return hierarchy.Record{}, err
	}
	fn(&f.records[i])
	return f.records[i].Clone(), nil
}

func (f *fakeSource) RenameNode(ctx context.Context, id, title string) (hierarchy.Record, error) {
	return f.update("rename", id, func(r *hierarchy.Record) { r.Title = title })
}

func (f *fakeSource) AssignUser(ctx context.Context, id, userID string) (hierarchy.Record, error) {
	return f.update("assign_user", id, func(r *hierarchy.Record) {
		r.BoundUserID = hierarchy.StringPtr(userID)
		if u, ok := f.users[userID]; ok {
			r.BoundUser = &u
		}
	})
}

func (f *fakeSource) SetStatus(ctx context.Context, id string, status hierarchy.Status) error {
	_, err := f.update("set_status", id, func(r *hierarchy.Record) { r.Status = &status })
	return err
}

func (f *fakeSource) SetRoleTitle(ctx context.Context, id, roleTitle string) (hierarchy.Record, error) {
	return f.update("set_role_title", id, func(r *hierarchy.Record) {
		r.RoleTitle = nil
		if roleTitle != "" {
			r.RoleTitle = hierarchy.StringPtr(roleTitle)
		}
	})
}

func (f *fakeSource) SetCEO(ctx context.Context, id string) (hierarchy.Record, error) {
	if err := f.enter("set_ceo"); err != nil {
		return hierarchy.Record{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	i, err := f.find(id)
	if err != nil {
		return hierarchy.Record{}, err
	}
	for j := range f.records {
		if rt := f.records[j].RoleTitle; rt != nil && orggraph.IsCEOTitle(*rt) {
			f.records[j].RoleTitle = nil
		}
	}
	f.records[i].RoleTitle = hierarchy.StringPtr(orggraph.CEOLabel)
	return f.records[i].Clone(), nil
}

func record(id, parent string, kind hierarchy.Kind, title string) hierarchy.Record {
	r := hierarchy.Record{ID: id, Kind: kind, Title: title}
	if parent != "" {
		r.ParentID = hierarchy.StringPtr(parent)
	}
	return r
}

func boundUser(id, parent, name, roleTitle string) hierarchy.Record {
	r := record(id, parent, hierarchy.KindUser, name+" seat")
	r.BoundUserID = hierarchy.StringPtr("u-" + id)
	r.BoundUser = &hierarchy.UserSnapshot{Name: name, Email: id + "@acme.io"}
	if roleTitle != "" {
		r.RoleTitle = hierarchy.StringPtr(roleTitle)
	}
	return r
}

// acmeRecords renders as seven nodes: c, be, alice, qa, bob, carol, seat.
func acmeRecords() []hierarchy.Record {
	return []hierarchy.Record{
		record("c", "", hierarchy.KindCompany, "Acme"),
		record("eng", "c", hierarchy.KindRole, "Engineering"),
		record("be", "eng", hierarchy.KindDepartment, "Backend"),
		boundUser("alice", "be", "Alice", "CEO"),
		record("qa", "c", hierarchy.KindDepartment, "QA"),
		boundUser("bob", "qa", "Bob", "Tester"),
		boundUser("carol", "qa", "Carol", ""),
		record("seat", "c", hierarchy.KindUser, "Open seat"),
	}
}
