package services

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/orgchart/modules/orgchart/domain/hierarchy"
	"github.com/iota-uz/orgchart/modules/orgchart/domain/orggraph"
)

func requireNodeType(code string, node orggraph.Node, allowed ...orggraph.NodeType) error {
	for _, t := range allowed {
		if node.Type == t {
			return nil
		}
	}
	return validationError(code, "operation is not available for "+string(node.Type)+" nodes")
}

func (s *GraphStore) RenameNode(ctx context.Context, nodeID, title string) error {
	in := RenameInput{Title: strings.TrimSpace(title)}
	if err := validateInput("ORGCHART_INVALID_TITLE", in); err != nil {
		return err
	}
	return s.mutate(ctx, mutation{
		op:     "rename",
		nodeID: nodeID,
		check: func(node orggraph.Node) error {
			if node.Meta.IsGhost {
				return validationError("ORGCHART_GHOST_NODE", "node is not saved yet")
			}
			return nil
		},
		apply: func(w *working, node orggraph.Node) error {
			w.record(node.Meta.RecordID).Title = in.Title
			return nil
		},
		remote: func(ctx context.Context) (func(w *working), error) {
			rec, err := s.source.RenameNode(ctx, nodeID, in.Title)
			if err != nil {
				return nil, err
			}
			return func(w *working) { w.replaceRecord(rec) }, nil
		},
	})
}

// CreateChildNode shows a ghost under parentID until the tree source answers, then
// swaps it for the created record.
func (s *GraphStore) CreateChildNode(ctx context.Context, in CreateNodeInput) (hierarchy.Record, error) {
	in.ParentID = strings.TrimSpace(in.ParentID)
	in.Title = strings.TrimSpace(in.Title)
	in.Kind = hierarchy.Kind(strings.ToLower(strings.TrimSpace(string(in.Kind))))
	if err := validateInput("ORGCHART_INVALID_NODE", in); err != nil {
		return hierarchy.Record{}, err
	}
	ghostID, err := s.newID()
	if err != nil {
		return hierarchy.Record{}, err
	}

	var created hierarchy.Record
	err = s.mutate(ctx, mutation{
		op:     "create",
		nodeID: in.ParentID,
		check: func(node orggraph.Node) error {
			return requireNodeType("ORGCHART_INVALID_PARENT", node, orggraph.NodeCompany, orggraph.NodeDepartment)
		},
		apply: func(w *working, node orggraph.Node) error {
			parentID := node.ID
			w.ghosts = append(w.ghosts, orggraph.Node{
				ID:       ghostID,
				Type:     orggraph.NodeGhost,
				Title:    in.Title,
				Subtitle: string(in.Kind),
				ParentID: &parentID,
				Meta: orggraph.NodeMeta{
					RecordID:       ghostID,
					SourceParentID: hierarchy.StringPtr(parentID),
					IsGhost:        true,
				},
			})
			return nil
		},
		remote: func(ctx context.Context) (func(w *working), error) {
			rec, err := s.source.CreateNode(ctx, in)
			if err != nil {
				return nil, err
			}
			created = rec.Clone()
			return func(w *working) {
				w.removeGhost(ghostID)
				w.records = append(w.records, rec.Clone())
			}, nil
		},
	})
	if err != nil {
		return hierarchy.Record{}, err
	}
	return created, nil
}

// DeleteNode removes the node and its whole subtree in one optimistic step.
func (s *GraphStore) DeleteNode(ctx context.Context, nodeID string) error {
	var removed []string
	err := s.mutate(ctx, mutation{
		op:     "delete",
		nodeID: nodeID,
		check: func(node orggraph.Node) error {
			if node.ParentID == nil {
				return validationError("ORGCHART_DELETE_ROOT", "the root node cannot be deleted")
			}
			if node.Meta.IsGhost {
				return validationError("ORGCHART_GHOST_NODE", "node is not saved yet")
			}
			return nil
		},
		apply: func(w *working, node orggraph.Node) error {
			removed = subtreeNodeIDs(s.graph, node.ID)
			w.removeSubtree(node.Meta.RecordID)
			return nil
		},
		remote: func(ctx context.Context) (func(w *working), error) {
			if err := s.source.DeleteNode(ctx, nodeID); err != nil {
				return nil, err
			}
			return nil, nil
		},
	})
	if err == nil {
		s.logWithFields(ctx, logrus.InfoLevel, "orgchart.node.deleted", logrus.Fields{
			"node_id": nodeID,
			"removed": len(removed),
		})
	}
	return err
}

func (s *GraphStore) AssignUser(ctx context.Context, nodeID string, in AssignUserInput) error {
	in.UserID = strings.TrimSpace(in.UserID)
	if err := validateInput("ORGCHART_INVALID_USER", in); err != nil {
		return err
	}
	return s.mutate(ctx, mutation{
		op:     "assign_user",
		nodeID: nodeID,
		check: func(node orggraph.Node) error {
			return requireNodeType("ORGCHART_INVALID_TARGET", node, orggraph.NodeCompany, orggraph.NodeUser)
		},
		apply: func(w *working, node orggraph.Node) error {
			rec := w.record(node.Meta.RecordID)
			rec.BoundUserID = hierarchy.StringPtr(in.UserID)
			rec.BoundUser = nil
			if in.Snapshot != nil {
				u := *in.Snapshot
				rec.BoundUser = &u
			}
			return nil
		},
		remote: func(ctx context.Context) (func(w *working), error) {
			rec, err := s.source.AssignUser(ctx, nodeID, in.UserID)
			if err != nil {
				return nil, err
			}
			return func(w *working) { w.replaceRecord(rec) }, nil
		},
	})
}

// SetStatus has no canonical answer from the tree source; the optimistic value stands.
func (s *GraphStore) SetStatus(ctx context.Context, nodeID string, status string) error {
	in := StatusInput{Status: strings.ToLower(strings.TrimSpace(status))}
	if err := validateInput("ORGCHART_INVALID_STATUS", in); err != nil {
		return err
	}
	parsed := hierarchy.Status(in.Status)
	return s.mutate(ctx, mutation{
		op:     "set_status",
		nodeID: nodeID,
		check: func(node orggraph.Node) error {
			if !node.HasBoundUser() {
				return validationError("ORGCHART_NO_BOUND_USER", "status requires a bound user")
			}
			return nil
		},
		apply: func(w *working, node orggraph.Node) error {
			w.record(node.Meta.RecordID).Status = &parsed
			return nil
		},
		remote: func(ctx context.Context) (func(w *working), error) {
			return nil, s.source.SetStatus(ctx, nodeID, parsed)
		},
	})
}

// SetRoleTitle sets or, with an empty title, clears the role title of a user node.
func (s *GraphStore) SetRoleTitle(ctx context.Context, nodeID, roleTitle string) error {
	in := RoleTitleInput{RoleTitle: strings.TrimSpace(roleTitle)}
	if err := validateInput("ORGCHART_INVALID_ROLE_TITLE", in); err != nil {
		return err
	}
	return s.mutate(ctx, mutation{
		op:     "set_role_title",
		nodeID: nodeID,
		check: func(node orggraph.Node) error {
			return requireNodeType("ORGCHART_INVALID_TARGET", node, orggraph.NodeUser)
		},
		apply: func(w *working, node orggraph.Node) error {
			rec := w.record(node.Meta.RecordID)
			rec.RoleTitle = nil
			if in.RoleTitle != "" {
				rec.RoleTitle = hierarchy.StringPtr(in.RoleTitle)
			}
			return nil
		},
		remote: func(ctx context.Context) (func(w *working), error) {
			rec, err := s.source.SetRoleTitle(ctx, nodeID, in.RoleTitle)
			if err != nil {
				return nil, err
			}
			return func(w *working) { w.replaceRecord(rec) }, nil
		},
	})
}

// SetCEO moves the CEO role title to nodeID. The change touches several records, so the
// tree is refetched afterwards; if that refetch fails the optimistic graph is kept.
func (s *GraphStore) SetCEO(ctx context.Context, nodeID string) error {
	return s.mutate(ctx, mutation{
		op:     "set_ceo",
		nodeID: nodeID,
		check: func(node orggraph.Node) error {
			return requireNodeType("ORGCHART_INVALID_TARGET", node, orggraph.NodeUser)
		},
		apply: func(w *working, node orggraph.Node) error {
			for i := range w.records {
				r := &w.records[i]
				if r.Kind != hierarchy.KindUser || r.RoleTitle == nil || !orggraph.IsCEOTitle(*r.RoleTitle) {
					continue
				}
				r.RoleTitle = nil
			}
			w.record(node.Meta.RecordID).RoleTitle = hierarchy.StringPtr(orggraph.CEOLabel)
			return nil
		},
		remote: func(ctx context.Context) (func(w *working), error) {
			rec, err := s.source.SetCEO(ctx, nodeID)
			if err != nil {
				return nil, err
			}
			tree, err := s.source.FetchTree(ctx)
			if err != nil {
				s.logWithFields(ctx, logrus.WarnLevel, "orgchart.reconcile.refetch_failed", logrus.Fields{
					"op":      "set_ceo",
					"node_id": nodeID,
					"error":   err.Error(),
				})
				return func(w *working) { w.replaceRecord(rec) }, nil
			}
			return func(w *working) {
				w.records = hierarchy.CloneRecords(tree.Records)
				canEdit := tree.Permissions.CanEdit
				w.canEdit = &canEdit
			}, nil
		},
	})
}
