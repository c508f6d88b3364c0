package mappers

import (
	"github.com/iota-uz/orgchart/modules/orgchart/domain/orggraph"
	"github.com/iota-uz/orgchart/modules/orgchart/presentation/viewmodels"
	"github.com/iota-uz/orgchart/modules/orgchart/services"
)

// CanvasNodeType is the single custom node renderer registered by the web client.
const CanvasNodeType = "orgNode"

func GraphToViewModel(view services.GraphView) viewmodels.Graph {
	nodes := make([]viewmodels.GraphNode, 0, len(view.Nodes))
	for _, n := range view.Nodes {
		nodes = append(nodes, NodeToViewModel(n, view.CanEdit))
	}
	edges := make([]viewmodels.GraphEdge, 0, len(view.Edges))
	for _, e := range view.Edges {
		edges = append(edges, viewmodels.GraphEdge{ID: e.ID, Source: e.Source, Target: e.Target, Type: e.Kind})
	}
	return viewmodels.Graph{
		State:        string(view.State),
		CanEdit:      view.CanEdit,
		Direction:    string(view.Direction),
		Version:      view.Version,
		Nodes:        nodes,
		Edges:        edges,
		AmbiguousCEO: view.AmbiguousCEO,
	}
}

func NodeToViewModel(n orggraph.PositionedNode, canEdit bool) viewmodels.GraphNode {
	var status *string
	if n.Meta.Status != nil {
		s := string(*n.Meta.Status)
		status = &s
	}
	modes := services.AvailableMenuModes(n.Node, canEdit)
	menuModes := make([]string, 0, len(modes))
	for _, m := range modes {
		menuModes = append(menuModes, string(m))
	}
	return viewmodels.GraphNode{
		ID:   n.ID,
		Type: CanvasNodeType,
		Position: viewmodels.Position{
			X: n.Position.X,
			Y: n.Position.Y,
		},
		Width:          n.Width,
		Height:         n.Height,
		SourcePosition: string(n.SourcePosition),
		TargetPosition: string(n.TargetPosition),
		Data: viewmodels.NodeData{
			Title:       n.Title,
			Subtitle:    n.Subtitle,
			Kind:        string(n.Type),
			RecordID:    n.Meta.RecordID,
			BoundUserID: n.Meta.BoundUserID,
			RoleTitle:   n.Meta.RoleTitle,
			Status:      status,
			Avatar:      n.Meta.Avatar,
			Email:       n.Meta.Email,
			IsCEO:       n.Meta.IsCEO,
			IsGhost:     n.Meta.IsGhost,
			MenuModes:   menuModes,
			Deletable:   canEdit && n.ParentID != nil && !n.Meta.IsGhost,
		},
	}
}

func InteractionToViewModel(state services.InteractionState) viewmodels.Interaction {
	out := viewmodels.Interaction{
		SelectedNodeID:     state.SelectedNodeID,
		DeleteDialogNodeID: state.DeleteDialogNodeID,
	}
	if open, ok := state.Menu.(services.MenuOpen); ok {
		out.Menu = viewmodels.Menu{Open: true, NodeID: open.NodeID, Mode: string(open.Mode)}
	}
	if state.Picker != nil {
		out.Picker = viewmodels.Picker{Active: true, ReturnTo: state.Picker.ReturnTo}
	}
	return out
}
