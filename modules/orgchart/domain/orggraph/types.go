// Package orggraph turns hierarchy records into a renderable graph and lays it out.
// Everything here is pure: inputs are never mutated and outputs are fresh copies.
package orggraph

import "github.com/iota-uz/orgchart/modules/orgchart/domain/hierarchy"

type NodeType string

const (
	NodeCompany    NodeType = "company"
	NodeDepartment NodeType = "department"
	NodeUser       NodeType = "user"
	NodeGhost      NodeType = "ghost"
)

const EdgeKindHierarchy = "hierarchy"

type NodeMeta struct {
	RecordID       string            `json:"recordId"`
	SourceParentID *string           `json:"sourceParentId"`
	BoundUserID    *string           `json:"boundUserId"`
	RoleTitle      *string           `json:"roleTitle"`
	Status         *hierarchy.Status `json:"status"`
	IsCEO          bool              `json:"isCeo"`
	IsGhost        bool              `json:"isGhost"`
	Avatar         string            `json:"avatar,omitempty"`
	Email          string            `json:"email,omitempty"`
	// CEONodeID points at the user node the company borrowed its display from.
	CEONodeID string `json:"ceoNodeId,omitempty"`
}

type Node struct {
	ID       string   `json:"id"`
	Type     NodeType `json:"type"`
	Title    string   `json:"title"`
	Subtitle string   `json:"subtitle"`
	ParentID *string  `json:"parentId"`
	Meta     NodeMeta `json:"meta"`
}

func (n Node) HasBoundUser() bool {
	return n.Meta.BoundUserID != nil && *n.Meta.BoundUserID != ""
}

func (n Node) Clone() Node {
	out := n
	out.ParentID = cloneString(n.ParentID)
	out.Meta.SourceParentID = cloneString(n.Meta.SourceParentID)
	out.Meta.BoundUserID = cloneString(n.Meta.BoundUserID)
	out.Meta.RoleTitle = cloneString(n.Meta.RoleTitle)
	if n.Meta.Status != nil {
		s := *n.Meta.Status
		out.Meta.Status = &s
	}
	return out
}

type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Kind   string `json:"kind"`
}

func EdgeID(source, target string) string {
	return source + "->" + target
}

func NewEdge(source, target string) Edge {
	return Edge{ID: EdgeID(source, target), Source: source, Target: target, Kind: EdgeKindHierarchy}
}

// Graph is the builder output. AmbiguousCEO lists user nodes that matched the CEO label
// after the first one; they are informational only.
type Graph struct {
	Nodes        []Node   `json:"nodes"`
	Edges        []Edge   `json:"edges"`
	AmbiguousCEO []string `json:"ambiguousCeo,omitempty"`
}

func (g Graph) Clone() Graph {
	return Graph{
		Nodes:        CloneNodes(g.Nodes),
		Edges:        CloneEdges(g.Edges),
		AmbiguousCEO: append([]string(nil), g.AmbiguousCEO...),
	}
}

func CloneNodes(in []Node) []Node {
	if in == nil {
		return nil
	}
	out := make([]Node, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}

func CloneEdges(in []Edge) []Edge {
	if in == nil {
		return nil
	}
	out := make([]Edge, len(in))
	copy(out, in)
	return out
}

type Direction string

const (
	TopToBottom Direction = "TB"
	LeftToRight Direction = "LR"
)

func (d Direction) Valid() bool {
	return d == TopToBottom || d == LeftToRight
}

type Anchor string

const (
	AnchorTop    Anchor = "top"
	AnchorBottom Anchor = "bottom"
	AnchorLeft   Anchor = "left"
	AnchorRight  Anchor = "right"
)

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type PositionedNode struct {
	Node
	Position       Position `json:"position"`
	Width          float64  `json:"width"`
	Height         float64  `json:"height"`
	SourcePosition Anchor   `json:"sourcePosition"`
	TargetPosition Anchor   `json:"targetPosition"`
}

func ClonePositioned(in []PositionedNode) []PositionedNode {
	if in == nil {
		return nil
	}
	out := make([]PositionedNode, len(in))
	for i := range in {
		out[i] = in[i]
		out[i].Node = in[i].Node.Clone()
	}
	return out
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}
