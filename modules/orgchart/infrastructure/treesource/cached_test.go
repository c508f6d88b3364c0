package treesource

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/orgchart/modules/orgchart/domain/hierarchy"
	"github.com/iota-uz/orgchart/modules/orgchart/services"
)

type mapCache struct {
	mu          sync.Mutex
	tree        *hierarchy.Tree
	ttl         time.Duration
	gets        int
	invalidated int
	getErr      error
}

func (c *mapCache) Get(ctx context.Context) (hierarchy.Tree, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.getErr != nil {
		return hierarchy.Tree{}, false, c.getErr
	}
	if c.tree == nil {
		return hierarchy.Tree{}, false, nil
	}
	return *c.tree, true, nil
}

func (c *mapCache) Set(ctx context.Context, tree hierarchy.Tree, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tree = &tree
	c.ttl = ttl
	return nil
}

func (c *mapCache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tree = nil
	c.invalidated++
	return nil
}

// countingSource counts FetchTree calls on top of a MemorySource. When serve is set it
// is returned instead of the seed records.
type countingSource struct {
	*MemorySource
	mu      sync.Mutex
	fetches int
	serve   *hierarchy.Tree
}

func (s *countingSource) FetchTree(ctx context.Context) (hierarchy.Tree, error) {
	s.mu.Lock()
	s.fetches++
	serve := s.serve
	s.mu.Unlock()
	if serve != nil {
		return *serve, nil
	}
	return s.MemorySource.FetchTree(ctx)
}

func cyclicTree() hierarchy.Tree {
	return hierarchy.Tree{
		Records: []hierarchy.Record{
			{ID: "c", Kind: hierarchy.KindCompany, Title: "Acme"},
			{ID: "a", ParentID: hierarchy.StringPtr("b"), Kind: hierarchy.KindDepartment, Title: "A"},
			{ID: "b", ParentID: hierarchy.StringPtr("a"), Kind: hierarchy.KindDepartment, Title: "B"},
		},
		Permissions: hierarchy.Permissions{CanEdit: true},
	}
}

func newCounting(t *testing.T) *countingSource {
	t.Helper()
	seed, err := LoadSeed(filepath.Join("testdata", "acme.json"))
	require.NoError(t, err)
	return &countingSource{MemorySource: NewMemorySource(seed)}
}

func TestCachedSource_ServesFromCacheUntilWrite(t *testing.T) {
	upstream := newCounting(t)
	cache := &mapCache{}
	src := NewCachedSource(upstream, cache, time.Minute, nil)
	ctx := context.Background()

	_, err := src.FetchTree(ctx)
	require.NoError(t, err)
	_, err = src.FetchTree(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, upstream.fetches)
	require.Equal(t, time.Minute, cache.ttl)

	_, err = src.RenameNode(ctx, "qa", "Quality")
	require.NoError(t, err)
	require.Equal(t, 1, cache.invalidated)

	tree, err := src.FetchTree(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, upstream.fetches)
	qa, ok := findRecord(t, tree, "qa")
	require.True(t, ok)
	require.Equal(t, "Quality", qa.Title)
}

func TestCachedSource_InvalidatesOnFailedWrite(t *testing.T) {
	upstream := newCounting(t)
	cache := &mapCache{}
	src := NewCachedSource(upstream, cache, time.Minute, nil)
	ctx := context.Background()

	_, err := src.FetchTree(ctx)
	require.NoError(t, err)

	upstream.FailNext("delete", services.NewTransportError(errors.New("timeout")))
	require.ErrorIs(t, src.DeleteNode(ctx, "qa"), services.ErrTransport)
	require.Equal(t, 1, cache.invalidated)
}

func TestCachedSource_EveryWriteInvalidates(t *testing.T) {
	upstream := newCounting(t)
	cache := &mapCache{}
	src := NewCachedSource(upstream, cache, time.Minute, nil)
	ctx := context.Background()

	_, _ = src.CreateNode(ctx, services.CreateNodeInput{ParentID: "qa", Kind: hierarchy.KindUser, Title: "x"})
	_, _ = src.AssignUser(ctx, "seat", "u-dave")
	_ = src.SetStatus(ctx, "seat", hierarchy.StatusBusy)
	_, _ = src.SetRoleTitle(ctx, "seat", "Designer")
	_, _ = src.SetCEO(ctx, "seat")
	_ = src.DeleteNode(ctx, "seat")
	require.Equal(t, 6, cache.invalidated)
}

func TestCachedSource_CacheErrorFallsThrough(t *testing.T) {
	upstream := newCounting(t)
	cache := &mapCache{getErr: errors.New("cache down")}
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	src := NewCachedSource(upstream, cache, time.Minute, log)

	tree, err := src.FetchTree(context.Background())
	require.NoError(t, err)
	require.Len(t, tree.Records, 7)
	require.Contains(t, buf.String(), "orgchart.cache.error")
}

func TestCachedSource_ReloadReadsUpstream(t *testing.T) {
	upstream := newCounting(t)
	cache := &mapCache{}
	store := services.NewGraphStore(NewCachedSource(upstream, cache, time.Hour, nil))
	ctx := context.Background()

	require.NoError(t, store.Load(ctx))
	require.Len(t, store.Snapshot().Nodes, 6)

	_, err := upstream.MemorySource.CreateNode(ctx, services.CreateNodeInput{
		ParentID: "c", Kind: hierarchy.KindDepartment, Title: "External",
	})
	require.NoError(t, err)

	require.NoError(t, store.Reload(ctx))
	require.Len(t, store.Snapshot().Nodes, 7)
	require.Equal(t, 2, upstream.fetches)
	require.Len(t, cache.tree.Records, 8, "fresh tree replaces the cached one")
}

func TestCachedSource_MalformedTreeIsNotCached(t *testing.T) {
	upstream := newCounting(t)
	bad := cyclicTree()
	upstream.serve = &bad
	cache := &mapCache{}
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	store := services.NewGraphStore(NewCachedSource(upstream, cache, time.Hour, log))
	ctx := context.Background()

	require.ErrorIs(t, store.Load(ctx), services.ErrReloadRequired)
	require.Equal(t, services.StateFailed, store.State())
	require.Nil(t, cache.tree)
	require.Contains(t, buf.String(), "orgchart.cache.skip_malformed")

	upstream.mu.Lock()
	upstream.serve = nil
	upstream.mu.Unlock()
	require.NoError(t, store.Reload(ctx))
	require.Equal(t, services.StateReady, store.State())
	require.Len(t, store.Snapshot().Nodes, 6)
}

func TestCachedSource_ReloadRecoversFromCachedMalformedTree(t *testing.T) {
	upstream := newCounting(t)
	bad := cyclicTree()
	cache := &mapCache{tree: &bad}
	store := services.NewGraphStore(NewCachedSource(upstream, cache, time.Hour, nil))
	ctx := context.Background()

	require.ErrorIs(t, store.Load(ctx), services.ErrReloadRequired)
	require.Equal(t, 0, upstream.fetches)

	require.NoError(t, store.Reload(ctx))
	require.Equal(t, 1, upstream.fetches)
	require.Equal(t, services.StateReady, store.State())
	require.Len(t, cache.tree.Records, 7)
}

func TestCachedSource_UnreachableRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	log := logrus.New()
	var buf bytes.Buffer
	log.SetOutput(&buf)
	upstream := newCounting(t)
	src := NewCachedSource(upstream, NewRedisCache(client, "acme"), time.Minute, log)

	tree, err := src.FetchTree(context.Background())
	require.NoError(t, err)
	require.Len(t, tree.Records, 7)
	require.Equal(t, 1, upstream.fetches)
	require.Contains(t, buf.String(), "orgchart.cache.error")
}

func TestNewRedisClient(t *testing.T) {
	client, err := NewRedisClient("redis://localhost:6379/2")
	require.NoError(t, err)
	require.Equal(t, 2, client.Options().DB)
	_ = client.Close()

	_, err = NewRedisClient("http://nope")
	require.Error(t, err)
}
