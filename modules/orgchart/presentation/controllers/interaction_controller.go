package controllers

import (
	"net/http"

	"github.com/iota-uz/orgchart/modules/orgchart/presentation/mappers"
	"github.com/iota-uz/orgchart/modules/orgchart/presentation/viewmodels"
	"github.com/iota-uz/orgchart/modules/orgchart/services"
	"github.com/iota-uz/orgchart/pkg/httpapi"
)

// Interaction endpoints are scoped to the caller's session; see sessionID.

type nodeRequest struct {
	NodeID string `json:"nodeId"`
}

type menuRequest struct {
	NodeID string `json:"nodeId" validate:"notblank"`
	Mode   string `json:"mode"`
}

type pickerRequest struct {
	ReturnTo string `json:"returnTo"`
}

type redirectResponse struct {
	Redirect string `json:"redirect"`
}

func (c *GraphController) interaction(w http.ResponseWriter, r *http.Request) *services.InteractionController {
	return c.registry.Get(sessionID(w, r))
}

func (c *GraphController) writeInteraction(w http.ResponseWriter, ic *services.InteractionController) {
	_ = httpapi.WriteJSON(w, http.StatusOK, mappers.InteractionToViewModel(ic.State()))
}

func (c *GraphController) GetInteraction(w http.ResponseWriter, r *http.Request) {
	c.writeInteraction(w, c.interaction(w, r))
}

// Select selects nodeId; an empty nodeId clears the selection.
func (c *GraphController) Select(w http.ResponseWriter, r *http.Request) {
	var req nodeRequest
	if !c.decode(w, r, &req, false) {
		return
	}
	ic := c.interaction(w, r)
	if req.NodeID == "" {
		ic.ClearSelection()
	} else if err := ic.Select(req.NodeID); err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	c.writeInteraction(w, ic)
}

func (c *GraphController) Click(w http.ResponseWriter, r *http.Request) {
	var req nodeRequest
	if !c.decode(w, r, &req, false) {
		return
	}
	res, err := c.interaction(w, r).ClickNode(req.NodeID)
	if err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, viewmodels.ClickResult{Selected: res.Selected, Redirect: res.Redirect})
}

func (c *GraphController) OpenMenu(w http.ResponseWriter, r *http.Request) {
	var req menuRequest
	if !c.decode(w, r, &req, false) {
		return
	}
	if err := services.ValidateRequest("ORGCHART_INVALID_MENU", req); err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	ic := c.interaction(w, r)
	if err := ic.OpenMenu(req.NodeID, services.MenuMode(req.Mode)); err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	c.writeInteraction(w, ic)
}

func (c *GraphController) CloseMenu(w http.ResponseWriter, r *http.Request) {
	ic := c.interaction(w, r)
	ic.CloseMenu()
	c.writeInteraction(w, ic)
}

func (c *GraphController) RequestDelete(w http.ResponseWriter, r *http.Request) {
	var req nodeRequest
	if !c.decode(w, r, &req, false) {
		return
	}
	ic := c.interaction(w, r)
	if err := ic.RequestDelete(req.NodeID); err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	c.writeInteraction(w, ic)
}

func (c *GraphController) CancelDelete(w http.ResponseWriter, r *http.Request) {
	ic := c.interaction(w, r)
	ic.CancelDelete()
	c.writeInteraction(w, ic)
}

func (c *GraphController) ConfirmDelete(w http.ResponseWriter, r *http.Request) {
	if err := c.interaction(w, r).ConfirmDelete(r.Context()); err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	c.writeGraph(w, http.StatusOK)
}

func (c *GraphController) EnterPicker(w http.ResponseWriter, r *http.Request) {
	var req pickerRequest
	if !c.decode(w, r, &req, true) {
		return
	}
	ic := c.interaction(w, r)
	ic.EnterPicker(req.ReturnTo)
	c.writeInteraction(w, ic)
}

func (c *GraphController) CancelPicker(w http.ResponseWriter, r *http.Request) {
	dest, ok := c.interaction(w, r).CancelPicker()
	if !ok {
		c.writeAPIError(w, r, http.StatusConflict, "ORGCHART_PICKER_INACTIVE", "picker is not active")
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, redirectResponse{Redirect: dest})
}
