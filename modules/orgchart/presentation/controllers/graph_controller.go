package controllers

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/iota-uz/orgchart/modules/orgchart/domain/hierarchy"
	"github.com/iota-uz/orgchart/modules/orgchart/domain/orggraph"
	"github.com/iota-uz/orgchart/modules/orgchart/presentation/mappers"
	"github.com/iota-uz/orgchart/modules/orgchart/presentation/viewmodels"
	"github.com/iota-uz/orgchart/modules/orgchart/services"
	"github.com/iota-uz/orgchart/pkg/application"
	"github.com/iota-uz/orgchart/pkg/httpapi"
)

type GraphControllerOptions struct {
	APIPrefix       string
	RequestIDHeader string
}

type GraphController struct {
	store           *services.GraphStore
	registry        *services.InteractionRegistry
	apiPrefix       string
	requestIDHeader string
}

func NewGraphController(store *services.GraphStore, registry *services.InteractionRegistry, opts GraphControllerOptions) application.Controller {
	prefix := strings.TrimRight(opts.APIPrefix, "/")
	if prefix == "" {
		prefix = "/orgchart/api"
	}
	return &GraphController{
		store:           store,
		registry:        registry,
		apiPrefix:       prefix,
		requestIDHeader: opts.RequestIDHeader,
	}
}

func (c *GraphController) Key() string {
	return c.apiPrefix
}

func (c *GraphController) Register(r *mux.Router) {
	api := r.PathPrefix(c.apiPrefix).Subrouter()

	api.HandleFunc("/graph", instrument("orgchart.graph.get", c.GetGraph)).Methods(http.MethodGet)
	api.HandleFunc("/graph:reload", instrument("orgchart.graph.reload", c.ReloadGraph)).Methods(http.MethodPost)
	api.HandleFunc("/graph/direction", instrument("orgchart.graph.direction", c.SetDirection)).Methods(http.MethodPut)

	api.HandleFunc("/nodes", instrument("orgchart.nodes.create", c.CreateNode)).Methods(http.MethodPost)
	api.HandleFunc("/nodes/{id}", instrument("orgchart.nodes.delete", c.DeleteNode)).Methods(http.MethodDelete)
	api.HandleFunc("/nodes/{id}/title", instrument("orgchart.nodes.rename", c.RenameNode)).Methods(http.MethodPatch)
	api.HandleFunc("/nodes/{id}/user", instrument("orgchart.nodes.assign_user", c.AssignUser)).Methods(http.MethodPatch)
	api.HandleFunc("/nodes/{id}/status", instrument("orgchart.nodes.status", c.SetStatus)).Methods(http.MethodPatch)
	api.HandleFunc("/nodes/{id}/role-title", instrument("orgchart.nodes.role_title", c.SetRoleTitle)).Methods(http.MethodPatch)
	api.HandleFunc("/nodes/{id}:set-ceo", instrument("orgchart.nodes.set_ceo", c.SetCEO)).Methods(http.MethodPost)

	api.HandleFunc("/interaction", instrument("orgchart.interaction.get", c.GetInteraction)).Methods(http.MethodGet)
	api.HandleFunc("/interaction/select", instrument("orgchart.interaction.select", c.Select)).Methods(http.MethodPost)
	api.HandleFunc("/interaction/click", instrument("orgchart.interaction.click", c.Click)).Methods(http.MethodPost)
	api.HandleFunc("/interaction/menu", instrument("orgchart.interaction.menu_open", c.OpenMenu)).Methods(http.MethodPost)
	api.HandleFunc("/interaction/menu", instrument("orgchart.interaction.menu_close", c.CloseMenu)).Methods(http.MethodDelete)
	api.HandleFunc("/interaction/delete-dialog", instrument("orgchart.interaction.delete_request", c.RequestDelete)).Methods(http.MethodPost)
	api.HandleFunc("/interaction/delete-dialog", instrument("orgchart.interaction.delete_cancel", c.CancelDelete)).Methods(http.MethodDelete)
	api.HandleFunc("/interaction/delete-dialog:confirm", instrument("orgchart.interaction.delete_confirm", c.ConfirmDelete)).Methods(http.MethodPost)
	api.HandleFunc("/interaction/picker", instrument("orgchart.interaction.picker_enter", c.EnterPicker)).Methods(http.MethodPost)
	api.HandleFunc("/interaction/picker", instrument("orgchart.interaction.picker_cancel", c.CancelPicker)).Methods(http.MethodDelete)
}

func (c *GraphController) writeGraph(w http.ResponseWriter, status int) {
	_ = httpapi.WriteJSON(w, status, mappers.GraphToViewModel(c.store.Snapshot()))
}

// GetGraph loads the tree on first use; later calls serve the in-memory graph.
func (c *GraphController) GetGraph(w http.ResponseWriter, r *http.Request) {
	if c.store.State() == services.StateIdle {
		if err := c.store.Load(r.Context()); err != nil {
			c.writeServiceError(w, r, err)
			return
		}
	}
	c.writeGraph(w, http.StatusOK)
}

func (c *GraphController) ReloadGraph(w http.ResponseWriter, r *http.Request) {
	if err := c.store.Reload(r.Context()); err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	c.writeGraph(w, http.StatusOK)
}

type directionRequest struct {
	Direction string `json:"direction" validate:"required,oneof=TB LR"`
}

func (c *GraphController) SetDirection(w http.ResponseWriter, r *http.Request) {
	var req directionRequest
	if !c.decode(w, r, &req, false) {
		return
	}
	req.Direction = strings.ToUpper(strings.TrimSpace(req.Direction))
	if err := services.ValidateRequest("ORGCHART_INVALID_DIRECTION", req); err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	if err := c.store.SetDirection(r.Context(), orggraph.Direction(req.Direction)); err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	c.writeGraph(w, http.StatusOK)
}

type createNodeResponse struct {
	Record hierarchy.Record `json:"record"`
	Graph  viewmodels.Graph `json:"graph"`
}

func (c *GraphController) CreateNode(w http.ResponseWriter, r *http.Request) {
	var req services.CreateNodeInput
	if !c.decode(w, r, &req, false) {
		return
	}
	rec, err := c.store.CreateChildNode(r.Context(), req)
	if err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusCreated, createNodeResponse{
		Record: rec,
		Graph:  mappers.GraphToViewModel(c.store.Snapshot()),
	})
}

// DeleteNode is the route for clients without the interaction flow. It removes the
// whole subtree, so the caller must pass confirm=true; the canvas goes through the
// delete dialog instead.
func (c *GraphController) DeleteNode(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "true" {
		c.writeAPIError(w, r, http.StatusPreconditionRequired, "ORGCHART_DELETE_NOT_CONFIRMED",
			"deleting a node removes its subtree; repeat with confirm=true")
		return
	}
	if err := c.store.DeleteNode(r.Context(), mux.Vars(r)["id"]); err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	c.writeGraph(w, http.StatusOK)
}

func (c *GraphController) RenameNode(w http.ResponseWriter, r *http.Request) {
	var req services.RenameInput
	if !c.decode(w, r, &req, false) {
		return
	}
	if err := c.store.RenameNode(r.Context(), mux.Vars(r)["id"], req.Title); err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	c.writeGraph(w, http.StatusOK)
}

func (c *GraphController) AssignUser(w http.ResponseWriter, r *http.Request) {
	var req services.AssignUserInput
	if !c.decode(w, r, &req, false) {
		return
	}
	if err := c.store.AssignUser(r.Context(), mux.Vars(r)["id"], req); err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	c.writeGraph(w, http.StatusOK)
}

func (c *GraphController) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req services.StatusInput
	if !c.decode(w, r, &req, false) {
		return
	}
	if err := c.store.SetStatus(r.Context(), mux.Vars(r)["id"], req.Status); err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	c.writeGraph(w, http.StatusOK)
}

func (c *GraphController) SetRoleTitle(w http.ResponseWriter, r *http.Request) {
	var req services.RoleTitleInput
	if !c.decode(w, r, &req, false) {
		return
	}
	if err := c.store.SetRoleTitle(r.Context(), mux.Vars(r)["id"], req.RoleTitle); err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	c.writeGraph(w, http.StatusOK)
}

func (c *GraphController) SetCEO(w http.ResponseWriter, r *http.Request) {
	if err := c.store.SetCEO(r.Context(), mux.Vars(r)["id"]); err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	c.writeGraph(w, http.StatusOK)
}
