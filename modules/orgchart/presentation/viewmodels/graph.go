package viewmodels

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type NodeData struct {
	Title       string  `json:"title"`
	Subtitle    string  `json:"subtitle"`
	Kind        string  `json:"kind"`
	RecordID    string  `json:"recordId,omitempty"`
	BoundUserID *string `json:"boundUserId"`
	RoleTitle   *string `json:"roleTitle"`
	Status      *string `json:"status"`
	Avatar      string  `json:"avatar,omitempty"`
	Email       string  `json:"email,omitempty"`
	IsCEO       bool    `json:"isCeo"`
	IsGhost     bool    `json:"isGhost"`
	// MenuModes lists the context menu modes the node accepts; empty when read-only.
	MenuModes []string `json:"menuModes"`
	Deletable bool     `json:"deletable"`
}

// GraphNode is a positioned node in the shape the canvas renders.
type GraphNode struct {
	ID             string   `json:"id"`
	Type           string   `json:"type"`
	Position       Position `json:"position"`
	Width          float64  `json:"width"`
	Height         float64  `json:"height"`
	SourcePosition string   `json:"sourcePosition"`
	TargetPosition string   `json:"targetPosition"`
	Data           NodeData `json:"data"`
}

type GraphEdge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

type Graph struct {
	State        string      `json:"state"`
	CanEdit      bool        `json:"canEdit"`
	Direction    string      `json:"direction"`
	Version      uint64      `json:"version"`
	Nodes        []GraphNode `json:"nodes"`
	Edges        []GraphEdge `json:"edges"`
	AmbiguousCEO []string    `json:"ambiguousCeo,omitempty"`
}
