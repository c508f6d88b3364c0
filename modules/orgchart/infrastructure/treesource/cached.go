package treesource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/orgchart/modules/orgchart/domain/hierarchy"
	"github.com/iota-uz/orgchart/modules/orgchart/domain/orggraph"
	"github.com/iota-uz/orgchart/modules/orgchart/services"
)

// TreeCache stores the last fetched tree. A miss is reported as ok=false with a nil error.
type TreeCache interface {
	Get(ctx context.Context) (hierarchy.Tree, bool, error)
	Set(ctx context.Context, tree hierarchy.Tree, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type RedisCache struct {
	redis *redis.Client
	key   string
}

func NewRedisCache(client *redis.Client, scope string) *RedisCache {
	if scope == "" {
		scope = "default"
	}
	return &RedisCache{redis: client, key: fmt.Sprintf("orgchart:tree:{%s}", scope)}
}

// NewRedisClient parses a redis:// url the way REDIS_URL is documented.
func NewRedisClient(rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func (c *RedisCache) Get(ctx context.Context) (hierarchy.Tree, bool, error) {
	raw, err := c.redis.Get(ctx, c.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return hierarchy.Tree{}, false, nil
		}
		return hierarchy.Tree{}, false, err
	}
	var tree hierarchy.Tree
	if err := json.Unmarshal(raw, &tree); err != nil {
		return hierarchy.Tree{}, false, err
	}
	return tree, true, nil
}

func (c *RedisCache) Set(ctx context.Context, tree hierarchy.Tree, ttl time.Duration) error {
	raw, err := json.Marshal(tree)
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, c.key, raw, ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context) error {
	return c.redis.Del(ctx, c.key).Err()
}

// CachedSource serves FetchTree from a cache and drops the cached tree after every
// edit that reaches the upstream. Cache failures are logged and never fail a call.
type CachedSource struct {
	next  services.TreeSource
	cache TreeCache
	ttl   time.Duration
	log   *logrus.Logger
}

var _ services.TreeSource = (*CachedSource)(nil)

func NewCachedSource(next services.TreeSource, cache TreeCache, ttl time.Duration, log *logrus.Logger) *CachedSource {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &CachedSource{next: next, cache: cache, ttl: ttl, log: log}
}

func (c *CachedSource) warn(op string, err error) {
	c.log.WithFields(logrus.Fields{
		"op":    op,
		"error": err.Error(),
	}).Warn("orgchart.cache.error")
}

// FetchTree serves the cached tree unless ctx carries services.WithFreshRead. Only trees
// that build into a valid graph are cached; a rejected tree also evicts the cached one.
func (c *CachedSource) FetchTree(ctx context.Context) (hierarchy.Tree, error) {
	if !services.IsFreshRead(ctx) {
		tree, ok, err := c.cache.Get(ctx)
		if err != nil {
			c.warn("get", err)
		}
		if ok {
			return tree, nil
		}
	}
	tree, err := c.next.FetchTree(ctx)
	if err != nil {
		return hierarchy.Tree{}, err
	}
	if _, err := orggraph.Build(tree.Records); err != nil {
		c.log.WithField("error", err.Error()).Warn("orgchart.cache.skip_malformed")
		c.invalidate(ctx)
		return tree, nil
	}
	if err := c.cache.Set(ctx, tree, c.ttl); err != nil {
		c.warn("set", err)
	}
	return tree, nil
}

// invalidate runs after any upstream write attempt; a failed write may still have
// been applied remotely.
func (c *CachedSource) invalidate(ctx context.Context) {
	if err := c.cache.Invalidate(ctx); err != nil {
		c.warn("invalidate", err)
	}
}

func (c *CachedSource) CreateNode(ctx context.Context, in services.CreateNodeInput) (hierarchy.Record, error) {
	defer c.invalidate(ctx)
	return c.next.CreateNode(ctx, in)
}

func (c *CachedSource) DeleteNode(ctx context.Context, id string) error {
	defer c.invalidate(ctx)
	return c.next.DeleteNode(ctx, id)
}

func (c *CachedSource) RenameNode(ctx context.Context, id, title string) (hierarchy.Record, error) {
	defer c.invalidate(ctx)
	return c.next.RenameNode(ctx, id, title)
}

func (c *CachedSource) AssignUser(ctx context.Context, id, userID string) (hierarchy.Record, error) {
	defer c.invalidate(ctx)
	return c.next.AssignUser(ctx, id, userID)
}

func (c *CachedSource) SetStatus(ctx context.Context, id string, status hierarchy.Status) error {
	defer c.invalidate(ctx)
	return c.next.SetStatus(ctx, id, status)
}

func (c *CachedSource) SetRoleTitle(ctx context.Context, id, roleTitle string) (hierarchy.Record, error) {
	defer c.invalidate(ctx)
	return c.next.SetRoleTitle(ctx, id, roleTitle)
}

func (c *CachedSource) SetCEO(ctx context.Context, id string) (hierarchy.Record, error) {
	defer c.invalidate(ctx)
	return c.next.SetCEO(ctx, id)
}
