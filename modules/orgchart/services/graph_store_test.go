package services

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/orgchart/modules/orgchart/domain/hierarchy"
	"github.com/iota-uz/orgchart/modules/orgchart/domain/orggraph"
	"github.com/iota-uz/orgchart/pkg/eventbus"
)

func loadedStore(t *testing.T, src *fakeSource, opts ...StoreOption) *GraphStore {
	t.Helper()
	store := NewGraphStore(src, opts...)
	require.NoError(t, store.Load(context.Background()))
	return store
}

func nodeIDs(view GraphView) []string {
	out := make([]string, 0, len(view.Nodes))
	for _, n := range view.Nodes {
		out = append(out, n.ID)
	}
	return out
}

func TestGraphStore_LoadBuildsAndLaysOut(t *testing.T) {
	src := newFakeSource(acmeRecords(), true)
	store := NewGraphStore(src)
	require.Equal(t, StateIdle, store.State())

	require.NoError(t, store.Load(context.Background()))
	require.NoError(t, store.Load(context.Background()))
	require.Equal(t, 1, src.callCount("fetch"))

	view := store.Snapshot()
	require.Equal(t, StateReady, view.State)
	require.True(t, view.CanEdit)
	require.Equal(t, orggraph.TopToBottom, view.Direction)
	require.Equal(t, []string{"c", "be", "alice", "qa", "bob", "carol", "seat"}, nodeIDs(view))
	require.Len(t, view.Edges, 6)

	company, ok := store.Node("c")
	require.True(t, ok)
	require.Equal(t, "Alice", company.Title)
	require.Equal(t, "Acme", company.Subtitle)
	require.True(t, company.Meta.IsCEO)
	require.Equal(t, orggraph.AnchorBottom, company.SourcePosition)
}

func TestGraphStore_LoadTransportFailureStaysIdle(t *testing.T) {
	src := newFakeSource(acmeRecords(), true)
	src.failWith("fetch", errors.New("connection refused"))
	store := NewGraphStore(src)

	err := store.Load(context.Background())
	require.ErrorIs(t, err, ErrTransport)
	require.Equal(t, StateIdle, store.State())
	require.False(t, store.CanEdit())
}

func TestGraphStore_MalformedTreeFailsAndReloadRecovers(t *testing.T) {
	records := append(acmeRecords(), record("orphan", "nowhere", hierarchy.KindDepartment, "Lost"))
	src := newFakeSource(records, true)
	store := NewGraphStore(src)

	err := store.Load(context.Background())
	require.ErrorIs(t, err, ErrReloadRequired)
	require.True(t, orggraph.IsMalformedTree(err))
	require.Equal(t, StateFailed, store.State())
	require.Empty(t, store.Snapshot().Nodes)

	src.mu.Lock()
	src.records = acmeRecords()
	src.mu.Unlock()

	require.NoError(t, store.Reload(context.Background()))
	require.Equal(t, StateReady, store.State())
	require.Len(t, store.Snapshot().Nodes, 7)
}

func TestGraphStore_OnlyReloadAsksForFreshRead(t *testing.T) {
	src := newFakeSource(acmeRecords(), true)
	store := NewGraphStore(src)

	require.NoError(t, store.Load(context.Background()))
	require.Equal(t, 0, src.callCount("fetch_fresh"))

	require.NoError(t, store.Reload(context.Background()))
	require.Equal(t, 2, src.callCount("fetch"))
	require.Equal(t, 1, src.callCount("fetch_fresh"))
}

func TestGraphStore_RollbackRestoresSnapshotForEveryOperation(t *testing.T) {
	cases := []struct {
		op  string
		run func(ctx context.Context, s *GraphStore) error
	}{
		{"rename", func(ctx context.Context, s *GraphStore) error { return s.RenameNode(ctx, "be", "Platform") }},
		{"create", func(ctx context.Context, s *GraphStore) error {
			_, err := s.CreateChildNode(ctx, CreateNodeInput{ParentID: "qa", Kind: hierarchy.KindUser, Title: "New hire"})
			return err
		}},
		{"delete", func(ctx context.Context, s *GraphStore) error { return s.DeleteNode(ctx, "qa") }},
		{"assign_user", func(ctx context.Context, s *GraphStore) error {
			return s.AssignUser(ctx, "seat", AssignUserInput{UserID: "u-dave", Snapshot: &hierarchy.UserSnapshot{Name: "Dave"}})
		}},
		{"set_status", func(ctx context.Context, s *GraphStore) error { return s.SetStatus(ctx, "bob", "busy") }},
		{"set_role_title", func(ctx context.Context, s *GraphStore) error { return s.SetRoleTitle(ctx, "bob", "Lead") }},
		{"set_ceo", func(ctx context.Context, s *GraphStore) error { return s.SetCEO(ctx, "bob") }},
	}

	for _, tc := range cases {
		t.Run(tc.op, func(t *testing.T) {
			src := newFakeSource(acmeRecords(), true)
			src.failWith(tc.op, NewServerError(http.StatusBadRequest, "BOOM", "rejected"))
			store := loadedStore(t, src)
			before := store.Snapshot()

			err := tc.run(context.Background(), store)
			require.ErrorIs(t, err, ErrServer)
			require.True(t, IsRecoverable(err))
			require.Equal(t, 1, src.callCount(tc.op))

			after := store.Snapshot()
			require.Equal(t, before.Version+2, after.Version, "optimistic apply and rollback each bump the version")
			before.Version, after.Version = 0, 0
			require.Equal(t, before, after)
		})
	}
}

func TestGraphStore_TransportErrorsAreClassified(t *testing.T) {
	src := newFakeSource(acmeRecords(), true)
	src.failWith("rename", errors.New("dial tcp: timeout"))
	store := loadedStore(t, src)

	err := store.RenameNode(context.Background(), "be", "Platform")
	require.ErrorIs(t, err, ErrTransport)
	require.Equal(t, StateReady, store.State())
}

func TestGraphStore_DeleteRemovesWholeSubtree(t *testing.T) {
	src := newFakeSource(acmeRecords(), true)
	store := loadedStore(t, src)

	var events []*GraphChangedEvent
	store.Events().Subscribe(func(e *GraphChangedEvent) { events = append(events, e) })

	require.NoError(t, store.DeleteNode(context.Background(), "qa"))
	view := store.Snapshot()
	require.Equal(t, []string{"c", "be", "alice", "seat"}, nodeIDs(view))
	for _, e := range view.Edges {
		require.NotContains(t, []string{"qa", "bob", "carol"}, e.Target)
	}

	require.Len(t, events, 2)
	require.Equal(t, ReasonOptimistic, events[0].Reason)
	require.Equal(t, []string{"qa", "bob", "carol"}, events[0].RemovedNodeIDs)
	require.Equal(t, ReasonReconciled, events[1].Reason)
	require.Empty(t, events[1].RemovedNodeIDs)
}

func TestGraphStore_DeleteRoleDescendantsGoToo(t *testing.T) {
	src := newFakeSource(acmeRecords(), true)
	store := loadedStore(t, src)

	require.NoError(t, store.DeleteNode(context.Background(), "be"))
	require.Equal(t, []string{"c", "qa", "bob", "carol", "seat"}, nodeIDs(store.Snapshot()))

	company, ok := store.Node("c")
	require.True(t, ok)
	require.Equal(t, "Acme", company.Title)
	require.Equal(t, orggraph.SubtitleRoot, company.Subtitle)
}

func TestGraphStore_CreateShowsGhostThenRealNode(t *testing.T) {
	src := newFakeSource(acmeRecords(), true)
	src.gate = make(chan struct{})
	store := loadedStore(t, src, withIDGenerator(func() (string, error) { return "ghost-test", nil }))

	done := make(chan error, 1)
	var created hierarchy.Record
	go func() {
		var err error
		created, err = store.CreateChildNode(context.Background(), CreateNodeInput{ParentID: "qa", Kind: hierarchy.KindUser, Title: "New hire"})
		done <- err
	}()

	require.Eventually(t, func() bool { return store.State() == StateMutating }, time.Second, 5*time.Millisecond)
	ghost, ok := store.Node("ghost-test")
	require.True(t, ok)
	require.Equal(t, orggraph.NodeGhost, ghost.Type)
	require.True(t, ghost.Meta.IsGhost)
	require.Equal(t, "qa", *ghost.ParentID)
	require.InDelta(t, 160, ghost.Width, 0)
	require.Len(t, store.Snapshot().Nodes, 8)

	close(src.gate)
	require.NoError(t, <-done)

	require.Equal(t, "rec-1", created.ID)
	_, ok = store.Node("ghost-test")
	require.False(t, ok)
	saved, ok := store.Node("rec-1")
	require.True(t, ok)
	require.Equal(t, "New hire", saved.Title)
	require.Equal(t, "qa", *saved.ParentID)
	require.Len(t, store.Snapshot().Nodes, 8)
}

func TestGraphStore_CreateFailureRestoresNodeCount(t *testing.T) {
	src := newFakeSource(acmeRecords(), true)
	src.failWith("create", NewServerError(http.StatusConflict, "DUPLICATE", "title already used"))
	store := loadedStore(t, src)
	before := len(store.Snapshot().Nodes)

	_, err := store.CreateChildNode(context.Background(), CreateNodeInput{ParentID: "qa", Kind: hierarchy.KindUser, Title: "New hire"})
	require.ErrorIs(t, err, ErrServer)
	require.Equal(t, "DUPLICATE", CodeOf(err))

	view := store.Snapshot()
	require.Len(t, view.Nodes, before)
	for _, n := range view.Nodes {
		require.False(t, n.Meta.IsGhost)
	}
}

func TestGraphStore_ReadOnlyRejectsWithoutNetwork(t *testing.T) {
	src := newFakeSource(acmeRecords(), false)
	store := loadedStore(t, src)
	ctx := context.Background()

	require.ErrorIs(t, store.RenameNode(ctx, "be", "X"), ErrPermissionDenied)
	require.ErrorIs(t, store.DeleteNode(ctx, "qa"), ErrPermissionDenied)
	require.ErrorIs(t, store.SetStatus(ctx, "bob", "sick"), ErrPermissionDenied)
	require.ErrorIs(t, store.SetRoleTitle(ctx, "bob", "Lead"), ErrPermissionDenied)
	require.ErrorIs(t, store.SetCEO(ctx, "bob"), ErrPermissionDenied)
	require.ErrorIs(t, store.AssignUser(ctx, "seat", AssignUserInput{UserID: "u-dave"}), ErrPermissionDenied)
	_, err := store.CreateChildNode(ctx, CreateNodeInput{ParentID: "qa", Kind: hierarchy.KindUser, Title: "X"})
	require.ErrorIs(t, err, ErrPermissionDenied)

	require.Zero(t, src.totalMutatingCalls())
}

func TestGraphStore_LocalValidationNeverReachesSource(t *testing.T) {
	src := newFakeSource(acmeRecords(), true)
	store := loadedStore(t, src)
	ctx := context.Background()

	cases := map[string]error{
		"blank title":          store.RenameNode(ctx, "be", "   "),
		"unknown node":         store.RenameNode(ctx, "nope", "X"),
		"delete root":          store.DeleteNode(ctx, "c"),
		"status without user":  store.SetStatus(ctx, "seat", "busy"),
		"unknown status":       store.SetStatus(ctx, "bob", "vacation"),
		"role title on dept":   store.SetRoleTitle(ctx, "qa", "Lead"),
		"ceo on dept":          store.SetCEO(ctx, "qa"),
		"assign on dept":       store.AssignUser(ctx, "qa", AssignUserInput{UserID: "u-dave"}),
		"assign without user":  store.AssignUser(ctx, "seat", AssignUserInput{UserID: " "}),
		"create under user":    createErr(store, CreateNodeInput{ParentID: "bob", Kind: hierarchy.KindUser, Title: "X"}),
		"create company":       createErr(store, CreateNodeInput{ParentID: "qa", Kind: hierarchy.KindCompany, Title: "X"}),
		"create without title": createErr(store, CreateNodeInput{ParentID: "qa", Kind: hierarchy.KindRole, Title: ""}),
	}
	for name, err := range cases {
		require.ErrorIs(t, err, ErrValidation, name)
	}
	require.Zero(t, src.totalMutatingCalls())
	require.Equal(t, StateReady, store.State())
}

func createErr(store *GraphStore, in CreateNodeInput) error {
	_, err := store.CreateChildNode(context.Background(), in)
	return err
}

func TestGraphStore_MutationBeforeLoad(t *testing.T) {
	store := NewGraphStore(newFakeSource(acmeRecords(), true))
	require.ErrorIs(t, store.RenameNode(context.Background(), "be", "X"), ErrNotLoaded)
}

func TestGraphStore_MalformedReconcileRequiresReload(t *testing.T) {
	src := newFakeSource(acmeRecords(), true)
	orphan := record("rec-x", "missing-parent", hierarchy.KindDepartment, "Orphan")
	src.createOverride = &orphan
	store := loadedStore(t, src)

	var failed []*StoreFailedEvent
	store.Events().Subscribe(func(e *StoreFailedEvent) { failed = append(failed, e) })

	_, err := store.CreateChildNode(context.Background(), CreateNodeInput{ParentID: "qa", Kind: hierarchy.KindDepartment, Title: "Orphan"})
	require.ErrorIs(t, err, ErrReloadRequired)
	require.False(t, IsRecoverable(err))
	require.Equal(t, StateFailed, store.State())
	require.False(t, store.CanEdit())
	require.Len(t, failed, 1)

	require.ErrorIs(t, store.RenameNode(context.Background(), "be", "X"), ErrReloadRequired)

	require.NoError(t, store.Reload(context.Background()))
	require.Equal(t, StateReady, store.State())
	require.NoError(t, store.RenameNode(context.Background(), "be", "Platform"))
}

func TestGraphStore_RenameReconcilesWithServerRecord(t *testing.T) {
	src := newFakeSource(acmeRecords(), true)
	store := loadedStore(t, src)

	require.NoError(t, store.RenameNode(context.Background(), "be", "  Platform  "))
	n, ok := store.Node("be")
	require.True(t, ok)
	require.Equal(t, "Platform", n.Title)
	require.Equal(t, StateReady, store.State())
}

func TestGraphStore_AssignUserUsesCanonicalSnapshot(t *testing.T) {
	src := newFakeSource(acmeRecords(), true)
	store := loadedStore(t, src)

	require.NoError(t, store.AssignUser(context.Background(), "seat", AssignUserInput{UserID: "u-dave"}))
	n, ok := store.Node("seat")
	require.True(t, ok)
	require.Equal(t, "Dave", n.Title)
	require.Equal(t, "u-dave", *n.Meta.BoundUserID)
}

func TestGraphStore_SetStatusAndRoleTitle(t *testing.T) {
	src := newFakeSource(acmeRecords(), true)
	store := loadedStore(t, src)
	ctx := context.Background()

	require.NoError(t, store.SetStatus(ctx, "bob", " Sick "))
	bob, _ := store.Node("bob")
	require.Equal(t, hierarchy.StatusSick, *bob.Meta.Status)

	require.NoError(t, store.SetRoleTitle(ctx, "bob", "Lead"))
	bob, _ = store.Node("bob")
	require.Equal(t, "Lead", bob.Subtitle)

	require.NoError(t, store.SetRoleTitle(ctx, "bob", ""))
	bob, _ = store.Node("bob")
	require.Equal(t, orggraph.SubtitleParticipant, bob.Subtitle)
}

func TestGraphStore_SetCEOMovesCompanyDisplay(t *testing.T) {
	src := newFakeSource(acmeRecords(), true)
	store := loadedStore(t, src)

	require.NoError(t, store.SetCEO(context.Background(), "bob"))
	require.Equal(t, 2, src.callCount("fetch"))

	company, _ := store.Node("c")
	require.Equal(t, "Bob", company.Title)
	require.Equal(t, "bob", company.Meta.CEONodeID)
	alice, _ := store.Node("alice")
	require.False(t, alice.Meta.IsCEO)
	require.Equal(t, orggraph.SubtitleParticipant, alice.Subtitle)
	require.Empty(t, store.Snapshot().AmbiguousCEO)
}

func TestGraphStore_SetCEOKeepsOptimisticWhenRefetchFails(t *testing.T) {
	src := newFakeSource(acmeRecords(), true)
	store := loadedStore(t, src)
	src.failWith("fetch", errors.New("connection reset"))

	require.NoError(t, store.SetCEO(context.Background(), "bob"))
	company, _ := store.Node("c")
	require.Equal(t, "Bob", company.Title)
	require.Equal(t, StateReady, store.State())
}

func TestGraphStore_ReadsSeeOptimisticStateWhileInFlight(t *testing.T) {
	src := newFakeSource(acmeRecords(), true)
	src.gate = make(chan struct{})
	store := loadedStore(t, src)

	done := make(chan error, 1)
	go func() { done <- store.RenameNode(context.Background(), "qa", "Quality") }()

	require.Eventually(t, func() bool {
		n, _ := store.Node("qa")
		return n.Title == "Quality"
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, StateMutating, store.State())

	close(src.gate)
	require.NoError(t, <-done)
	require.Equal(t, StateReady, store.State())
}

func TestGraphStore_ConcurrentEditsAreSerialized(t *testing.T) {
	src := newFakeSource(acmeRecords(), true)
	src.failWith("set_status", NewServerError(http.StatusBadRequest, "NOPE", "no"))
	store := loadedStore(t, src)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = store.RenameNode(context.Background(), "qa", "Quality")
		}()
		go func() {
			defer wg.Done()
			_ = store.SetStatus(context.Background(), "bob", "busy")
		}()
	}
	wg.Wait()

	qa, _ := store.Node("qa")
	require.Equal(t, "Quality", qa.Title)
	bob, _ := store.Node("bob")
	require.Nil(t, bob.Meta.Status)
	require.Equal(t, StateReady, store.State())
}

func TestGraphStore_SetDirection(t *testing.T) {
	src := newFakeSource(acmeRecords(), true)
	store := loadedStore(t, src)
	before := store.Snapshot().Version

	require.ErrorIs(t, store.SetDirection(context.Background(), orggraph.Direction("XY")), ErrValidation)
	require.NoError(t, store.SetDirection(context.Background(), orggraph.LeftToRight))

	view := store.Snapshot()
	require.Equal(t, orggraph.LeftToRight, view.Direction)
	require.Equal(t, before+1, view.Version)
	for _, n := range view.Nodes {
		require.Equal(t, orggraph.AnchorRight, n.SourcePosition)
		require.Equal(t, orggraph.AnchorLeft, n.TargetPosition)
	}
	require.Equal(t, 1, src.callCount("fetch"))
}

func TestGraphStore_RollbackIsLoggedAndCounted(t *testing.T) {
	buf := &bytes.Buffer{}
	log := logrus.New()
	log.SetOutput(buf)
	log.SetLevel(logrus.WarnLevel)

	src := newFakeSource(acmeRecords(), true)
	src.failWith("rename", NewServerError(http.StatusBadRequest, "BAD_TITLE", "bad title"))
	bus := eventbus.NewEventPublisher(nil)
	store := loadedStore(t, src, WithLogger(log), WithEventBus(bus))

	var rolledBack []*MutationRolledBackEvent
	bus.Subscribe(func(e *MutationRolledBackEvent) { rolledBack = append(rolledBack, e) })

	require.Error(t, store.RenameNode(context.Background(), "qa", "X"))
	require.Contains(t, buf.String(), "orgchart.mutation.rolled_back")
	require.Contains(t, buf.String(), "BAD_TITLE")
	require.Len(t, rolledBack, 1)
	require.Equal(t, "rename", rolledBack[0].Op)

	mfs, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	require.GreaterOrEqual(t, counterValue(mfs, "orgchart_store_rollbacks_total", map[string]string{"op": "rename"}), float64(1))
	require.GreaterOrEqual(t, counterValue(mfs, "orgchart_store_mutations_total", map[string]string{"op": "rename", "result": "error"}), float64(1))
}

func counterValue(mfs []*dto.MetricFamily, name string, want map[string]string) float64 {
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			match := true
			for _, lp := range m.GetLabel() {
				if v, ok := want[lp.GetName()]; ok && v != lp.GetValue() {
					match = false
				}
			}
			if match {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}
