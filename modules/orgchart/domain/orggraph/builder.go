package orggraph

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/iota-uz/orgchart/modules/orgchart/domain/hierarchy"
)

const (
	SubtitleParticipant = "Participant"
	SubtitleDepartment  = "Department"
	SubtitleRoot        = "Root"
	DefaultCompanyTitle = "Company"
)

// Build converts a record forest into a graph. Role records are transparent: they emit
// nothing and their children hang off the nearest emitted ancestor. Children keep the
// order they have in the input, so the same input always produces the same graph.
func Build(records []hierarchy.Record) (Graph, error) {
	if len(records) == 0 {
		return Graph{Nodes: []Node{}, Edges: []Edge{}}, nil
	}

	byID := make(map[string]int, len(records))
	for i, r := range records {
		id := r.ID
		if strings.TrimSpace(id) == "" {
			return Graph{}, malformed("record without id", "")
		}
		if strings.TrimSpace(id) != id {
			return Graph{}, malformed("record id has surrounding whitespace", id)
		}
		if _, dup := byID[id]; dup {
			return Graph{}, malformed("duplicate record id", id)
		}
		if !r.Kind.Valid() {
			return Graph{}, malformed("unknown kind "+string(r.Kind), id)
		}
		byID[id] = i
	}

	rootIdx := -1
	children := make(map[string][]int, len(records))
	for i, r := range records {
		if r.IsRoot() {
			if rootIdx >= 0 {
				return Graph{}, malformed("more than one root", r.ID)
			}
			rootIdx = i
			continue
		}
		parentID := strings.TrimSpace(*r.ParentID)
		if parentID == r.ID {
			return Graph{}, malformed("record is its own parent", r.ID)
		}
		if _, ok := byID[parentID]; !ok {
			return Graph{}, malformed("parent not found", r.ID)
		}
		children[parentID] = append(children[parentID], i)
	}
	if rootIdx < 0 {
		return Graph{}, malformed("no root record", "")
	}
	if records[rootIdx].Kind != hierarchy.KindCompany {
		return Graph{}, malformed("root is not a company", records[rootIdx].ID)
	}

	w := &walker{
		records:  records,
		children: children,
		visited:  make(map[string]struct{}, len(records)),
		nodes:    make([]Node, 0, len(records)),
		edges:    make([]Edge, 0, len(records)),
	}
	if err := w.walk(rootIdx, nil, 0); err != nil {
		return Graph{}, err
	}
	if len(w.visited) != len(records) {
		for _, r := range records {
			if _, ok := w.visited[r.ID]; !ok {
				return Graph{}, malformed("cycle detected", r.ID)
			}
		}
	}

	ambiguous := resolveCEO(w.nodes)
	return Graph{
		Nodes:        w.nodes,
		Edges:        dedupEdges(w.edges),
		AmbiguousCEO: ambiguous,
	}, nil
}

type walker struct {
	records  []hierarchy.Record
	children map[string][]int
	visited  map[string]struct{}
	nodes    []Node
	edges    []Edge
}

func (w *walker) walk(idx int, graphParent *string, depth int) error {
	r := w.records[idx]
	if _, seen := w.visited[r.ID]; seen {
		return malformed("cycle detected", r.ID)
	}
	if depth > len(w.records) {
		return malformed("hierarchy deeper than record count", r.ID)
	}
	w.visited[r.ID] = struct{}{}

	next := graphParent
	if r.Kind != hierarchy.KindRole {
		n := NodeFromRecord(r, graphParent)
		w.nodes = append(w.nodes, n)
		if graphParent != nil {
			w.edges = append(w.edges, NewEdge(*graphParent, n.ID))
		}
		id := n.ID
		next = &id
	}

	for _, child := range w.children[r.ID] {
		if err := w.walk(child, next, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// NodeFromRecord maps a single non-role record to its graph node under graphParent.
// CEO display borrowing is not applied here; see resolveCEO.
func NodeFromRecord(r hierarchy.Record, graphParent *string) Node {
	n := Node{
		ID:       r.ID,
		ParentID: cloneString(graphParent),
		Meta: NodeMeta{
			RecordID:       r.ID,
			SourceParentID: cloneString(r.ParentID),
			BoundUserID:    cloneString(r.BoundUserID),
			RoleTitle:      cloneString(r.RoleTitle),
		},
	}
	if r.Status != nil && r.HasBoundUser() {
		s := *r.Status
		n.Meta.Status = &s
	}
	if r.BoundUser != nil {
		n.Meta.Avatar = r.BoundUser.Avatar
		n.Meta.Email = r.BoundUser.Email
	}

	switch r.Kind {
	case hierarchy.KindCompany:
		n.Type = NodeCompany
		companyTitle := strings.TrimSpace(r.Title)
		if companyTitle == "" {
			companyTitle = DefaultCompanyTitle
		}
		if r.HasBoundUser() {
			n.Title = DisplayName(r.BoundUser, r.Title)
			n.Subtitle = companyTitle
			n.Meta.IsCEO = true
		} else {
			n.Title = companyTitle
			n.Subtitle = SubtitleRoot
		}
	case hierarchy.KindDepartment:
		n.Type = NodeDepartment
		n.Title = strings.TrimSpace(r.Title)
		n.Subtitle = SubtitleDepartment
	default:
		n.Type = NodeUser
		n.Title = DisplayName(r.BoundUser, r.Title)
		n.Subtitle = UserSubtitle(r.RoleTitle)
	}
	return n
}

// DisplayName picks the snapshot name, then a name derived from the email, then the fallback.
func DisplayName(u *hierarchy.UserSnapshot, fallback string) string {
	if u != nil {
		if name := strings.TrimSpace(u.Name); name != "" {
			return name
		}
		if name := nameFromEmail(u.Email); name != "" {
			return name
		}
	}
	return strings.TrimSpace(fallback)
}

func UserSubtitle(roleTitle *string) string {
	if roleTitle != nil {
		if v := strings.TrimSpace(*roleTitle); v != "" {
			return v
		}
	}
	return SubtitleParticipant
}

// nameFromEmail turns "anna.maria_smith@corp" into "Anna Maria Smith".
func nameFromEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return ""
	}
	parts := strings.FieldsFunc(email[:at], func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})
	words := make([]string, 0, len(parts))
	for _, p := range parts {
		r, size := utf8.DecodeRuneInString(p)
		words = append(words, string(unicode.ToUpper(r))+p[size:])
	}
	return strings.Join(words, " ")
}

func dedupEdges(in []Edge) []Edge {
	seen := make(map[string]struct{}, len(in))
	out := make([]Edge, 0, len(in))
	for _, e := range in {
		if _, ok := seen[e.ID]; ok {
			continue
		}
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}
	return out
}
