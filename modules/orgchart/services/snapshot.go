package services

import (
	"github.com/iota-uz/orgchart/modules/orgchart/domain/hierarchy"
	"github.com/iota-uz/orgchart/modules/orgchart/domain/orggraph"
)

// storeSnapshot is a deep copy of everything an edit can touch. The version counter is
// not part of it: restoring bumps the version so a rolled-back graph never reuses a
// number a client already saw.
type storeSnapshot struct {
	records    []hierarchy.Record
	ghosts     []orggraph.Node
	graph      orggraph.Graph
	positioned []orggraph.PositionedNode
	canEdit    bool
}

func (s *GraphStore) captureLocked() storeSnapshot {
	return storeSnapshot{
		records:    hierarchy.CloneRecords(s.records),
		ghosts:     orggraph.CloneNodes(s.ghosts),
		graph:      s.graph.Clone(),
		positioned: orggraph.ClonePositioned(s.positioned),
		canEdit:    s.canEdit,
	}
}

func (s *GraphStore) restoreLocked(snap storeSnapshot) {
	s.records = hierarchy.CloneRecords(snap.records)
	s.ghosts = orggraph.CloneNodes(snap.ghosts)
	s.graph = snap.graph.Clone()
	s.positioned = orggraph.ClonePositioned(snap.positioned)
	s.canEdit = snap.canEdit
	s.version++
}

// working is the mutable copy an edit applies to before it replaces the live state.
type working struct {
	records []hierarchy.Record
	ghosts  []orggraph.Node
	canEdit *bool
}

func (s *GraphStore) workingLocked() *working {
	return &working{
		records: hierarchy.CloneRecords(s.records),
		ghosts:  orggraph.CloneNodes(s.ghosts),
	}
}

func (w *working) record(id string) *hierarchy.Record {
	for i := range w.records {
		if w.records[i].ID == id {
			return &w.records[i]
		}
	}
	return nil
}

// replaceRecord swaps in the canonical copy returned by the tree source. Unknown ids
// are ignored; the optimistic value stays.
func (w *working) replaceRecord(r hierarchy.Record) {
	if r.ID == "" {
		return
	}
	if existing := w.record(r.ID); existing != nil {
		*existing = r.Clone()
	}
}

func (w *working) removeGhost(id string) {
	out := w.ghosts[:0]
	for _, g := range w.ghosts {
		if g.ID != id {
			out = append(out, g)
		}
	}
	w.ghosts = out
}

// removeSubtree drops id and every record below it, role records included, plus any
// ghost hanging off a removed node.
func (w *working) removeSubtree(id string) {
	removed := map[string]struct{}{id: {}}
	for changed := true; changed; {
		changed = false
		for _, r := range w.records {
			if _, ok := removed[r.ID]; ok || r.ParentID == nil {
				continue
			}
			if _, ok := removed[*r.ParentID]; ok {
				removed[r.ID] = struct{}{}
				changed = true
			}
		}
	}

	records := w.records[:0]
	for _, r := range w.records {
		if _, ok := removed[r.ID]; !ok {
			records = append(records, r)
		}
	}
	w.records = records

	ghosts := w.ghosts[:0]
	for _, g := range w.ghosts {
		if g.ParentID != nil {
			if _, ok := removed[*g.ParentID]; ok {
				continue
			}
		}
		ghosts = append(ghosts, g)
	}
	w.ghosts = ghosts
}

// removedNodeIDs lists nodes of before that are missing from after, in before order.
func removedNodeIDs(before, after orggraph.Graph) []string {
	present := make(map[string]struct{}, len(after.Nodes))
	for _, n := range after.Nodes {
		present[n.ID] = struct{}{}
	}
	var out []string
	for _, n := range before.Nodes {
		if _, ok := present[n.ID]; !ok {
			out = append(out, n.ID)
		}
	}
	return out
}

// subtreeNodeIDs walks the graph edges from root and returns root plus its descendants.
func subtreeNodeIDs(g orggraph.Graph, root string) []string {
	children := make(map[string][]string, len(g.Nodes))
	for _, e := range g.Edges {
		children[e.Source] = append(children[e.Source], e.Target)
	}
	out := []string{root}
	for i := 0; i < len(out); i++ {
		out = append(out, children[out[i]]...)
	}
	return out
}
