package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/iota-uz/orgchart/modules/orgchart/domain/orggraph"
)

type MenuMode string

const (
	MenuDefault    MenuMode = "default"
	MenuAssignRole MenuMode = "assignRole"
	MenuSetStatus  MenuMode = "setStatus"
	MenuSetCEO     MenuMode = "setCEO"
)

func (m MenuMode) Valid() bool {
	switch m {
	case MenuDefault, MenuAssignRole, MenuSetStatus, MenuSetCEO:
		return true
	default:
		return false
	}
}

// MenuState is either MenuClosed or MenuOpen.
type MenuState interface {
	isMenuState()
}

type MenuClosed struct{}

type MenuOpen struct {
	NodeID string
	Mode   MenuMode
}

func (MenuClosed) isMenuState() {}
func (MenuOpen) isMenuState()   {}

type InteractionState struct {
	SelectedNodeID string
	Menu           MenuState
	// DeleteDialogNodeID is set while the delete confirmation is showing.
	DeleteDialogNodeID string
	Picker             *PickerSession
}

// ClickResult tells the caller what a node click did. Redirect is set when the click
// resolved an active picker.
type ClickResult struct {
	Selected string
	Redirect string
}

// InteractionController coordinates selection, the single open context menu, the delete
// confirmation dialog and picker mode for one viewer.
type InteractionController struct {
	store          *GraphStore
	defaultLanding string

	mu    sync.Mutex
	state InteractionState
}

// NewInteractionController creates a controller that closes its menu and dialog when
// the store drops the node they point at.
func NewInteractionController(store *GraphStore, defaultLanding string) *InteractionController {
	c := newInteractionController(store, defaultLanding)
	store.Events().Subscribe(c.OnGraphChanged)
	return c
}

func newInteractionController(store *GraphStore, defaultLanding string) *InteractionController {
	if !IsInternalPath(defaultLanding) {
		defaultLanding = "/"
	}
	return &InteractionController{
		store:          store,
		defaultLanding: defaultLanding,
		state:          InteractionState{Menu: MenuClosed{}},
	}
}

func (c *InteractionController) State() InteractionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.state
	if c.state.Picker != nil {
		p := *c.state.Picker
		out.Picker = &p
	}
	return out
}

func (c *InteractionController) node(id string) (orggraph.Node, error) {
	pn, ok := c.store.Node(id)
	if !ok {
		return orggraph.Node{}, validationError("ORGCHART_NODE_NOT_FOUND", fmt.Sprintf("node %s not found", id))
	}
	return pn.Node, nil
}

// Select is allowed for read-only viewers. Selecting another node closes its menu.
func (c *InteractionController) Select(nodeID string) error {
	if _, err := c.node(nodeID); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.SelectedNodeID = nodeID
	if open, ok := c.state.Menu.(MenuOpen); ok && open.NodeID != nodeID {
		c.state.Menu = MenuClosed{}
	}
	return nil
}

func (c *InteractionController) ClearSelection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.SelectedNodeID = ""
	c.state.Menu = MenuClosed{}
}

func checkMenuMode(node orggraph.Node, mode MenuMode) error {
	if node.Meta.IsGhost {
		return validationError("ORGCHART_GHOST_NODE", "node is not saved yet")
	}
	switch mode {
	case MenuDefault:
		return nil
	case MenuSetStatus:
		if !node.HasBoundUser() {
			return validationError("ORGCHART_NO_BOUND_USER", "status requires a bound user")
		}
		return nil
	case MenuAssignRole, MenuSetCEO:
		return requireNodeType("ORGCHART_INVALID_TARGET", node, orggraph.NodeUser)
	default:
		return validationError("ORGCHART_INVALID_MENU", fmt.Sprintf("unknown menu mode %q", mode))
	}
}

var menuModes = []MenuMode{MenuDefault, MenuAssignRole, MenuSetStatus, MenuSetCEO}

// AvailableMenuModes lists the modes OpenMenu would accept for node.
func AvailableMenuModes(node orggraph.Node, canEdit bool) []MenuMode {
	if !canEdit {
		return nil
	}
	out := make([]MenuMode, 0, len(menuModes))
	for _, m := range menuModes {
		if checkMenuMode(node, m) == nil {
			out = append(out, m)
		}
	}
	return out
}

// OpenMenu opens the menu for nodeID and closes any other menu or dialog.
func (c *InteractionController) OpenMenu(nodeID string, mode MenuMode) error {
	if mode == "" {
		mode = MenuDefault
	}
	if !c.store.CanEdit() {
		return permissionDenied()
	}
	node, err := c.node(nodeID)
	if err != nil {
		return err
	}
	if err := checkMenuMode(node, mode); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.SelectedNodeID = nodeID
	c.state.Menu = MenuOpen{NodeID: nodeID, Mode: mode}
	c.state.DeleteDialogNodeID = ""
	return nil
}

func (c *InteractionController) CloseMenu() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Menu = MenuClosed{}
}

// RequestDelete closes the menu and asks for confirmation.
func (c *InteractionController) RequestDelete(nodeID string) error {
	if !c.store.CanEdit() {
		return permissionDenied()
	}
	node, err := c.node(nodeID)
	if err != nil {
		return err
	}
	if node.ParentID == nil {
		return validationError("ORGCHART_DELETE_ROOT", "the root node cannot be deleted")
	}
	if node.Meta.IsGhost {
		return validationError("ORGCHART_GHOST_NODE", "node is not saved yet")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Menu = MenuClosed{}
	c.state.DeleteDialogNodeID = nodeID
	return nil
}

func (c *InteractionController) CancelDelete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.DeleteDialogNodeID = ""
}

// ConfirmDelete closes the dialog and deletes the node it was opened for. The store
// publishes synchronously, so the controller lock is released before calling it.
func (c *InteractionController) ConfirmDelete(ctx context.Context) error {
	c.mu.Lock()
	nodeID := c.state.DeleteDialogNodeID
	c.state.DeleteDialogNodeID = ""
	c.mu.Unlock()

	if nodeID == "" {
		return validationError("ORGCHART_NO_DIALOG", "no delete is awaiting confirmation")
	}
	return c.store.DeleteNode(ctx, nodeID)
}

// EnterPicker starts picker mode. Destinations that are not internal paths fall back to
// the default landing path.
func (c *InteractionController) EnterPicker(returnTo string) PickerSession {
	session := PickerSession{ReturnTo: SafeReturnPath(returnTo, c.defaultLanding)}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Picker = &session
	c.state.Menu = MenuClosed{}
	c.state.DeleteDialogNodeID = ""
	return session
}

// CancelPicker leaves picker mode and returns where to navigate, without a user id.
func (c *InteractionController) CancelPicker() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Picker == nil {
		return "", false
	}
	dest := c.state.Picker.ReturnTo
	c.state.Picker = nil
	return dest, true
}

// ClickNode resolves an active picker when the node is a user with a bound user, and
// selects the node otherwise.
func (c *InteractionController) ClickNode(nodeID string) (ClickResult, error) {
	node, err := c.node(nodeID)
	if err != nil {
		return ClickResult{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Picker != nil && node.Type == orggraph.NodeUser && node.HasBoundUser() {
		dest := PickerRedirect(c.state.Picker.ReturnTo, *node.Meta.BoundUserID)
		c.state.Picker = nil
		c.state.SelectedNodeID = nodeID
		return ClickResult{Selected: nodeID, Redirect: dest}, nil
	}
	c.state.SelectedNodeID = nodeID
	if open, ok := c.state.Menu.(MenuOpen); ok && open.NodeID != nodeID {
		c.state.Menu = MenuClosed{}
	}
	return ClickResult{Selected: nodeID}, nil
}

// OnGraphChanged drops references to nodes the store no longer has.
func (c *InteractionController) OnGraphChanged(e *GraphChangedEvent) {
	c.dropMissing(func(id string) bool {
		_, ok := c.store.Node(id)
		return ok
	})
}

func (c *InteractionController) dropMissing(exists func(id string) bool) {
	gone := func(id string) bool {
		return id != "" && !exists(id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gone(c.state.SelectedNodeID) {
		c.state.SelectedNodeID = ""
	}
	if gone(c.state.DeleteDialogNodeID) {
		c.state.DeleteDialogNodeID = ""
	}
	if open, ok := c.state.Menu.(MenuOpen); ok && gone(open.NodeID) {
		c.state.Menu = MenuClosed{}
	}
}

const (
	DefaultMaxSessions = 10000
	DefaultSessionTTL  = 30 * time.Minute
)

type RegistryOption func(*registryConfig)

type registryConfig struct {
	maxSessions int
	sessionTTL  time.Duration
}

// WithMaxSessions caps how many sessions are kept; the least recently used one is
// dropped first.
func WithMaxSessions(n int) RegistryOption {
	return func(c *registryConfig) {
		if n > 0 {
			c.maxSessions = n
		}
	}
}

// WithSessionTTL drops a session that has not been touched for ttl.
func WithSessionTTL(ttl time.Duration) RegistryOption {
	return func(c *registryConfig) {
		if ttl > 0 {
			c.sessionTTL = ttl
		}
	}
}

// InteractionRegistry keeps one controller per viewer session behind a single event bus
// subscription. Sessions idle for longer than the TTL or pushed out by the size cap are
// forgotten; a returning viewer starts from a closed menu.
type InteractionRegistry struct {
	store          *GraphStore
	defaultLanding string

	mu       sync.Mutex
	sessions *expirable.LRU[string, *InteractionController]
}

func NewInteractionRegistry(store *GraphStore, defaultLanding string, opts ...RegistryOption) *InteractionRegistry {
	conf := registryConfig{maxSessions: DefaultMaxSessions, sessionTTL: DefaultSessionTTL}
	for _, opt := range opts {
		opt(&conf)
	}
	r := &InteractionRegistry{
		store:          store,
		defaultLanding: defaultLanding,
		sessions:       expirable.NewLRU[string, *InteractionController](conf.maxSessions, nil, conf.sessionTTL),
	}
	store.Events().Subscribe(r.onGraphChanged)
	return r
}

// Get returns the session's controller, creating it on first use. Every call renews
// the session's TTL.
func (r *InteractionRegistry) Get(sessionID string) *InteractionController {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.sessions.Get(sessionID)
	if !ok {
		c = newInteractionController(r.store, r.defaultLanding)
	}
	r.sessions.Add(sessionID, c)
	return c
}

func (r *InteractionRegistry) Forget(sessionID string) {
	r.sessions.Remove(sessionID)
}

// Len counts retained sessions, including expired ones not swept yet.
func (r *InteractionRegistry) Len() int {
	return r.sessions.Len()
}

func (r *InteractionRegistry) onGraphChanged(e *GraphChangedEvent) {
	controllers := r.sessions.Values()
	if len(controllers) == 0 {
		return
	}
	present := r.store.NodeIDs()
	exists := func(id string) bool {
		_, ok := present[id]
		return ok
	}
	for _, c := range controllers {
		c.dropMissing(exists)
	}
}
