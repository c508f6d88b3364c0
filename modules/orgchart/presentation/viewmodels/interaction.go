package viewmodels

type Menu struct {
	Open   bool   `json:"open"`
	NodeID string `json:"nodeId,omitempty"`
	Mode   string `json:"mode,omitempty"`
}

type Picker struct {
	Active   bool   `json:"active"`
	ReturnTo string `json:"returnTo,omitempty"`
}

type Interaction struct {
	SelectedNodeID     string `json:"selectedNodeId,omitempty"`
	Menu               Menu   `json:"menu"`
	DeleteDialogNodeID string `json:"deleteDialogNodeId,omitempty"`
	Picker             Picker `json:"picker"`
}

type ClickResult struct {
	Selected string `json:"selected,omitempty"`
	Redirect string `json:"redirect,omitempty"`
}
