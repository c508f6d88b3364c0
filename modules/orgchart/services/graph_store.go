package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wI2L/jsondiff"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/iota-uz/orgchart/modules/orgchart/domain/hierarchy"
	"github.com/iota-uz/orgchart/modules/orgchart/domain/orggraph"
	"github.com/iota-uz/orgchart/pkg/eventbus"
)

type State string

const (
	StateIdle     State = "idle"
	StateLoading  State = "loading"
	StateReady    State = "ready"
	StateMutating State = "mutating"
	StateFailed   State = "failed"
)

// GraphView is a detached copy of the store's current graph.
type GraphView struct {
	State        State                     `json:"state"`
	CanEdit      bool                      `json:"canEdit"`
	Direction    orggraph.Direction        `json:"direction"`
	Version      uint64                    `json:"version"`
	Nodes        []orggraph.PositionedNode `json:"nodes"`
	Edges        []orggraph.Edge           `json:"edges"`
	AmbiguousCEO []string                  `json:"ambiguousCeo,omitempty"`
}

// GraphStore owns the live graph. Reads are concurrent and observe optimistic state
// while an edit is in flight; edits are serialized so a rollback only ever restores
// the snapshot its own edit took.
type GraphStore struct {
	source    TreeSource
	publisher eventbus.EventBus
	log       *logrus.Logger
	tracer    trace.Tracer
	newID     func() (string, error)

	writeMu sync.Mutex

	mu         sync.RWMutex
	state      State
	canEdit    bool
	direction  orggraph.Direction
	engine     orggraph.LayoutEngine
	records    []hierarchy.Record
	ghosts     []orggraph.Node
	graph      orggraph.Graph
	positioned []orggraph.PositionedNode
	version    uint64
}

type StoreOption func(*GraphStore)

func WithDirection(d orggraph.Direction) StoreOption {
	return func(s *GraphStore) {
		if d.Valid() {
			s.direction = d
		}
	}
}

func WithLayoutOptions(opts orggraph.LayoutOptions) StoreOption {
	return func(s *GraphStore) {
		s.engine = orggraph.NewLayoutEngine(opts)
	}
}

func WithEventBus(bus eventbus.EventBus) StoreOption {
	return func(s *GraphStore) {
		if bus != nil {
			s.publisher = bus
		}
	}
}

func WithLogger(log *logrus.Logger) StoreOption {
	return func(s *GraphStore) {
		s.log = log
	}
}

func WithTracer(t trace.Tracer) StoreOption {
	return func(s *GraphStore) {
		if t != nil {
			s.tracer = t
		}
	}
}

func withIDGenerator(fn func() (string, error)) StoreOption {
	return func(s *GraphStore) {
		s.newID = fn
	}
}

func NewGraphStore(source TreeSource, opts ...StoreOption) *GraphStore {
	s := &GraphStore{
		source:    source,
		publisher: eventbus.NewEventPublisher(nil),
		tracer:    otel.Tracer("orgchart/services"),
		newID:     newGhostID,
		state:     StateIdle,
		direction: orggraph.TopToBottom,
		engine:    orggraph.NewLayoutEngine(orggraph.DefaultLayoutOptions()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *GraphStore) Events() eventbus.EventBus {
	return s.publisher
}

func (s *GraphStore) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *GraphStore) CanEdit() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.canEdit && s.state != StateFailed
}

func (s *GraphStore) Direction() orggraph.Direction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direction
}

func (s *GraphStore) Snapshot() GraphView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return GraphView{
		State:        s.state,
		CanEdit:      s.canEdit,
		Direction:    s.direction,
		Version:      s.version,
		Nodes:        orggraph.ClonePositioned(s.positioned),
		Edges:        orggraph.CloneEdges(s.graph.Edges),
		AmbiguousCEO: append([]string(nil), s.graph.AmbiguousCEO...),
	}
}

// NodeIDs returns the set of node ids currently on the graph.
func (s *GraphStore) NodeIDs() map[string]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]struct{}, len(s.positioned))
	for _, pn := range s.positioned {
		out[pn.ID] = struct{}{}
	}
	return out
}

func (s *GraphStore) Node(id string) (orggraph.PositionedNode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, pn := range s.positioned {
		if pn.ID == id {
			out := pn
			out.Node = pn.Node.Clone()
			return out, true
		}
	}
	return orggraph.PositionedNode{}, false
}

// Load fetches the tree the first time it is called; later calls are no-ops once the
// store is ready. Use Reload to refetch.
func (s *GraphStore) Load(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.State() == StateReady {
		return nil
	}
	return s.fetchLocked(ctx, "load")
}

// Reload refetches the tree from the system of record, bypassing any cache, and replaces
// the graph. It is the only way out of StateFailed.
func (s *GraphStore) Reload(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.fetchLocked(WithFreshRead(ctx), "reload")
}

func (s *GraphStore) fetchLocked(ctx context.Context, op string) (err error) {
	ctx, span := s.tracer.Start(ctx, "orgchart.store."+op)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	s.mu.Lock()
	prev := s.state
	s.state = StateLoading
	s.mu.Unlock()

	tree, err := s.source.FetchTree(ctx)
	if err != nil {
		s.mu.Lock()
		if prev == StateReady || prev == StateFailed {
			s.state = prev
		} else {
			s.state = StateIdle
		}
		s.mu.Unlock()
		return classify(err)
	}

	g, positioned, err := s.layout(tree.Records, nil)
	if err != nil {
		s.fail(ctx, op, err)
		return reloadRequired(err)
	}

	s.mu.Lock()
	removed := removedNodeIDs(s.graph, g)
	s.records = hierarchy.CloneRecords(tree.Records)
	s.ghosts = nil
	s.graph = g
	s.positioned = positioned
	s.canEdit = tree.Permissions.CanEdit
	s.state = StateReady
	s.version++
	version := s.version
	s.mu.Unlock()

	s.logAmbiguousCEO(ctx, op, g)
	s.logWithFields(ctx, logrus.InfoLevel, "orgchart.store.loaded", logrus.Fields{
		"op":       op,
		"nodes":    len(g.Nodes),
		"can_edit": tree.Permissions.CanEdit,
	})
	s.publisher.Publish(&GraphChangedEvent{Reason: ReasonLoaded, Op: op, Version: version, RemovedNodeIDs: removed})
	return nil
}

// SetDirection re-lays out the current graph without refetching.
func (s *GraphStore) SetDirection(ctx context.Context, d orggraph.Direction) error {
	if !d.Valid() {
		return validationError("ORGCHART_INVALID_DIRECTION", fmt.Sprintf("unknown direction %q", d))
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.direction == d {
		s.mu.Unlock()
		return nil
	}
	prev := s.direction
	s.direction = d
	if s.state != StateReady {
		s.mu.Unlock()
		return nil
	}
	g, positioned, err := s.layout(s.records, s.ghosts)
	if err != nil {
		s.direction = prev
		s.mu.Unlock()
		return reloadRequired(err)
	}
	s.graph = g
	s.positioned = positioned
	s.version++
	version := s.version
	s.mu.Unlock()

	s.publisher.Publish(&GraphChangedEvent{Reason: ReasonDirection, Op: "set_direction", Version: version})
	return nil
}

// layout builds the graph from records, appends pending ghosts under their parents and
// positions everything with the current direction.
func (s *GraphStore) layout(records []hierarchy.Record, ghosts []orggraph.Node) (orggraph.Graph, []orggraph.PositionedNode, error) {
	started := time.Now()
	defer observeLayout(string(s.direction), started)

	g, err := orggraph.Build(records)
	if err != nil {
		return orggraph.Graph{}, nil, err
	}
	for _, ghost := range ghosts {
		g.Nodes = append(g.Nodes, ghost.Clone())
		if ghost.ParentID != nil {
			g.Edges = append(g.Edges, orggraph.NewEdge(*ghost.ParentID, ghost.ID))
		}
	}
	positioned, err := s.engine.Layout(g.Nodes, g.Edges, s.direction)
	if err != nil {
		return orggraph.Graph{}, nil, err
	}
	return g, positioned, nil
}

func (s *GraphStore) fail(ctx context.Context, op string, cause error) {
	s.mu.Lock()
	s.state = StateFailed
	s.mu.Unlock()

	s.logWithFields(ctx, logrus.ErrorLevel, "orgchart.store.failed", logrus.Fields{
		"op":    op,
		"error": cause.Error(),
	})
	s.publisher.Publish(&StoreFailedEvent{Op: op, Err: cause})
}

func (s *GraphStore) logAmbiguousCEO(ctx context.Context, op string, g orggraph.Graph) {
	if len(g.AmbiguousCEO) == 0 {
		return
	}
	s.logWithFields(ctx, logrus.WarnLevel, "orgchart.ceo.ambiguous", logrus.Fields{
		"op":       op,
		"node_ids": strings.Join(g.AmbiguousCEO, ","),
	})
}

// classify makes sure every tree source failure carries a kind.
func classify(err error) error {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return err
	}
	return NewTransportError(err)
}

type mutation struct {
	op     string
	nodeID string
	// check validates the target node against the current graph.
	check func(node orggraph.Node) error
	// apply edits the working copy optimistically.
	apply func(w *working, node orggraph.Node) error
	// remote talks to the tree source and returns how to fold its answer into the state.
	remote func(ctx context.Context) (func(w *working), error)
}

func (s *GraphStore) checkEditableLocked() error {
	switch s.state {
	case StateFailed:
		return reloadRequired(nil)
	case StateIdle, StateLoading:
		return notLoaded()
	}
	if !s.canEdit {
		return permissionDenied()
	}
	return nil
}

func (s *GraphStore) graphNodeLocked(id string) (orggraph.Node, bool) {
	for _, n := range s.graph.Nodes {
		if n.ID == id {
			return n.Clone(), true
		}
	}
	return orggraph.Node{}, false
}

func (s *GraphStore) mutate(ctx context.Context, m mutation) (err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ctx, span := s.tracer.Start(ctx, "orgchart.store."+m.op, trace.WithAttributes(
		attribute.String("orgchart.op", m.op),
		attribute.String("orgchart.node_id", m.nodeID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		recordMutation(m.op, err)
	}()

	s.mu.Lock()
	if err := s.checkEditableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	node, ok := s.graphNodeLocked(m.nodeID)
	if !ok {
		s.mu.Unlock()
		return validationError("ORGCHART_NODE_NOT_FOUND", fmt.Sprintf("node %s not found", m.nodeID))
	}
	if m.check != nil {
		if err := m.check(node); err != nil {
			s.mu.Unlock()
			return err
		}
	}

	snap := s.captureLocked()
	w := s.workingLocked()
	if err := m.apply(w, node); err != nil {
		s.mu.Unlock()
		return err
	}
	g, positioned, err := s.layout(w.records, w.ghosts)
	if err != nil {
		s.mu.Unlock()
		return validationError("ORGCHART_INVALID_EDIT", err.Error())
	}
	removed := removedNodeIDs(s.graph, g)
	s.records, s.ghosts, s.graph, s.positioned = w.records, w.ghosts, g, positioned
	s.state = StateMutating
	s.version++
	version := s.version
	optimistic := g.Clone()
	s.mu.Unlock()

	s.publisher.Publish(&GraphChangedEvent{Reason: ReasonOptimistic, Op: m.op, NodeID: m.nodeID, Version: version, RemovedNodeIDs: removed})

	fold, remoteErr := m.remote(ctx)
	if remoteErr != nil {
		remoteErr = classify(remoteErr)
		s.rollback(ctx, m, snap, remoteErr)
		return remoteErr
	}
	return s.reconcile(ctx, m, fold, optimistic)
}

func (s *GraphStore) rollback(ctx context.Context, m mutation, snap storeSnapshot, cause error) {
	s.mu.Lock()
	current := s.graph
	s.restoreLocked(snap)
	s.state = StateReady
	removed := removedNodeIDs(current, s.graph)
	version := s.version
	s.mu.Unlock()

	recordRollback(m.op)
	s.logWithFields(ctx, logrus.WarnLevel, "orgchart.mutation.rolled_back", logrus.Fields{
		"op":         m.op,
		"node_id":    m.nodeID,
		"error_code": CodeOf(cause),
		"error":      cause.Error(),
	})
	s.publisher.Publish(&MutationRolledBackEvent{Op: m.op, NodeID: m.nodeID, Err: cause})
	s.publisher.Publish(&GraphChangedEvent{Reason: ReasonRolledBack, Op: m.op, NodeID: m.nodeID, Version: version, RemovedNodeIDs: removed})
}

// reconcile folds the server answer into the state. A server answer that no longer forms
// a valid tree leaves the optimistic graph on screen and moves the store to StateFailed.
func (s *GraphStore) reconcile(ctx context.Context, m mutation, fold func(w *working), optimistic orggraph.Graph) error {
	s.mu.Lock()
	w := s.workingLocked()
	if fold != nil {
		fold(w)
	}
	g, positioned, err := s.layout(w.records, w.ghosts)
	if err != nil {
		s.mu.Unlock()
		s.fail(ctx, m.op, err)
		return reloadRequired(err)
	}
	removed := removedNodeIDs(s.graph, g)
	s.records, s.ghosts, s.graph, s.positioned = w.records, w.ghosts, g, positioned
	if w.canEdit != nil {
		s.canEdit = *w.canEdit
	}
	s.state = StateReady
	s.version++
	version := s.version
	s.mu.Unlock()

	s.logDrift(ctx, m, optimistic, g)
	s.logAmbiguousCEO(ctx, m.op, g)
	s.publisher.Publish(&GraphChangedEvent{Reason: ReasonReconciled, Op: m.op, NodeID: m.nodeID, Version: version, RemovedNodeIDs: removed})
	return nil
}

func (s *GraphStore) logDrift(ctx context.Context, m mutation, optimistic, reconciled orggraph.Graph) {
	patch, err := jsondiff.Compare(optimistic, reconciled)
	if err != nil {
		s.logWithFields(ctx, logrus.DebugLevel, "orgchart.reconcile.diff_failed", logrus.Fields{"op": m.op, "error": err.Error()})
		return
	}
	if len(patch) == 0 {
		return
	}
	recordDrift(m.op)
	s.logWithFields(ctx, logrus.DebugLevel, "orgchart.reconcile.drift", logrus.Fields{
		"op":         m.op,
		"node_id":    m.nodeID,
		"operations": len(patch),
		"patch":      patch.String(),
	})
}
