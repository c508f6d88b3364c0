package orgchart

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/orgchart/modules/orgchart/domain/orggraph"
	"github.com/iota-uz/orgchart/modules/orgchart/infrastructure/notify"
	"github.com/iota-uz/orgchart/modules/orgchart/infrastructure/treesource"
	"github.com/iota-uz/orgchart/modules/orgchart/presentation/controllers"
	"github.com/iota-uz/orgchart/modules/orgchart/services"
	"github.com/iota-uz/orgchart/pkg/application"
	"github.com/iota-uz/orgchart/pkg/configuration"
)

type ModuleOptions struct {
	Config *configuration.Configuration
	// Source replaces the source built from Config.TreeAPI.
	Source services.TreeSource
	// Publisher replaces the NATS publisher built from Config.NATSURL.
	Publisher notify.Publisher
	APIPrefix string
}

func NewModule(opts *ModuleOptions) *Module {
	return &Module{options: opts}
}

type Module struct {
	options *ModuleOptions

	store    *services.GraphStore
	notifier *notify.Notifier
	closers  []func() error
}

func (m *Module) Register(app application.Application) error {
	conf := m.options.Config
	if conf == nil {
		return errors.New("orgchart: configuration is required")
	}
	log := app.Logger()

	source := m.options.Source
	if source == nil {
		var err error
		source, err = NewTreeSource(conf)
		if err != nil {
			return err
		}
	}
	if conf.Cache.Enabled {
		client, err := treesource.NewRedisClient(conf.RedisURL)
		if err != nil {
			return err
		}
		m.closers = append(m.closers, client.Close)
		source = treesource.NewCachedSource(source, treesource.NewRedisCache(client, cacheScope(conf)), conf.Cache.TTL, log)
	}

	m.store = services.NewGraphStore(source,
		services.WithDirection(orggraph.Direction(conf.Layout.Direction)),
		services.WithLayoutOptions(orggraph.LayoutOptions{
			RankSpacing:    conf.Layout.RankSpacing,
			SiblingSpacing: conf.Layout.SiblingSpacing,
		}),
		services.WithEventBus(app.EventPublisher()),
		services.WithLogger(log),
	)
	registry := services.NewInteractionRegistry(m.store, conf.DefaultLanding,
		services.WithMaxSessions(conf.Sessions.MaxSessions),
		services.WithSessionTTL(conf.Sessions.TTL),
	)

	pub, err := m.publisher(conf, log)
	if err != nil {
		return err
	}
	m.notifier = notify.NewNotifier(pub, log)
	m.notifier.Attach(app.EventPublisher())
	m.closers = append(m.closers, pub.Close)

	app.RegisterServices(m.store, registry)
	app.RegisterControllers(
		controllers.NewGraphController(m.store, registry, controllers.GraphControllerOptions{
			APIPrefix:       m.options.APIPrefix,
			RequestIDHeader: conf.RequestIDHeader,
		}),
	)
	return nil
}

func (m *Module) publisher(conf *configuration.Configuration, log *logrus.Logger) (notify.Publisher, error) {
	if m.options.Publisher != nil {
		return m.options.Publisher, nil
	}
	if conf.NATSURL == "" {
		return notify.NoopPublisher{}, nil
	}
	pub, err := notify.NewNATSPublisher(conf.NATSURL)
	if err != nil {
		return nil, err
	}
	log.WithField("url", conf.NATSURL).Info("orgchart.notify.connected")
	return pub, nil
}

// Warm loads the graph once so the first request does not pay for the fetch.
func (m *Module) Warm(ctx context.Context) error {
	if m.store == nil {
		return errors.New("orgchart: module is not registered")
	}
	return m.store.Load(ctx)
}

// Close detaches the notifier and releases the redis and NATS connections.
func (m *Module) Close() error {
	if m.notifier != nil {
		m.notifier.Detach()
	}
	var errs []error
	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i](); err != nil && !errors.Is(err, redis.ErrClosed) {
			errs = append(errs, err)
		}
	}
	m.closers = nil
	return errors.Join(errs...)
}

func (m *Module) Name() string {
	return "orgchart"
}

// NewTreeSource builds the remote client when an API url is configured and falls back
// to a seed file otherwise.
func NewTreeSource(conf *configuration.Configuration) (services.TreeSource, error) {
	if conf.TreeAPI.URL != "" {
		client, err := treesource.NewHTTPClient(treesource.HTTPClientOptions{
			BaseURL:         conf.TreeAPI.URL,
			Authorization:   conf.TreeAPI.Token,
			Timeout:         conf.TreeAPI.Timeout,
			RequestIDHeader: conf.RequestIDHeader,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	if conf.TreeAPI.SeedPath != "" {
		seed, err := treesource.LoadSeed(conf.TreeAPI.SeedPath)
		if err != nil {
			return nil, err
		}
		return treesource.NewMemorySource(seed), nil
	}
	return nil, fmt.Errorf("orgchart: set ORGCHART_API_URL or ORGCHART_SEED_PATH")
}

func cacheScope(conf *configuration.Configuration) string {
	if conf.TreeAPI.URL != "" {
		return conf.TreeAPI.URL
	}
	return conf.TreeAPI.SeedPath
}
