package orgchart

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/orgchart/modules/orgchart/infrastructure/notify"
	"github.com/iota-uz/orgchart/modules/orgchart/infrastructure/treesource"
	"github.com/iota-uz/orgchart/modules/orgchart/services"
	"github.com/iota-uz/orgchart/pkg/application"
	"github.com/iota-uz/orgchart/pkg/configuration"
)

var acmeSeed = filepath.Join("infrastructure", "treesource", "testdata", "acme.json")

type subjectRecorder struct {
	mu       sync.Mutex
	subjects []string
	closed   bool
}

func (p *subjectRecorder) Publish(ctx context.Context, subject string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	return nil
}

func (p *subjectRecorder) Close() error {
	p.closed = true
	return nil
}

func testConfig(t *testing.T) *configuration.Configuration {
	t.Helper()
	conf, err := configuration.Parse()
	require.NoError(t, err)
	conf.TreeAPI.URL = ""
	conf.TreeAPI.SeedPath = acmeSeed
	conf.Cache.Enabled = false
	conf.NATSURL = ""
	return conf
}

func newApp() application.Application {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return application.New(&application.ApplicationOptions{Logger: log})
}

func TestModule_RegisterFromSeed(t *testing.T) {
	app := newApp()
	pub := &subjectRecorder{}
	m := NewModule(&ModuleOptions{Config: testConfig(t), Publisher: pub})
	require.NoError(t, app.RegisterModules(m))
	require.Equal(t, "orgchart", m.Name())
	require.Len(t, app.Controllers(), 1)
	require.Equal(t, "/orgchart/api", app.Controllers()[0].Key())

	store := app.Service(services.GraphStore{}).(*services.GraphStore)
	require.NotNil(t, app.Service(services.InteractionRegistry{}))
	require.Equal(t, services.StateIdle, store.State())

	require.NoError(t, m.Warm(context.Background()))
	require.Equal(t, services.StateReady, store.State())
	require.Len(t, store.Snapshot().Nodes, 6)

	r := mux.NewRouter()
	for _, c := range app.Controllers() {
		c.Register(r)
	}
	req := httptest.NewRequest(http.MethodDelete, "/orgchart/api/nodes/qa?confirm=true", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	pub.mu.Lock()
	require.Contains(t, pub.subjects, notify.SubjectGraphChanged)
	pub.mu.Unlock()

	require.NoError(t, m.Close())
	require.True(t, pub.closed)
	require.Equal(t, 1, app.EventPublisher().SubscribersCount(), "only the interaction registry stays subscribed")
}

func TestModule_SourceOverride(t *testing.T) {
	seed, err := treesource.LoadSeed(acmeSeed)
	require.NoError(t, err)
	seed.Permissions.CanEdit = false

	app := newApp()
	m := NewModule(&ModuleOptions{
		Config:    testConfig(t),
		Source:    treesource.NewMemorySource(seed),
		APIPrefix: "/api/org",
	})
	require.NoError(t, app.RegisterModules(m))
	t.Cleanup(func() { _ = m.Close() })
	require.Equal(t, "/api/org", app.Controllers()[0].Key())

	require.NoError(t, m.Warm(context.Background()))
	store := app.Service(services.GraphStore{}).(*services.GraphStore)
	require.False(t, store.CanEdit())
}

func TestModule_RequiresConfig(t *testing.T) {
	err := newApp().RegisterModules(NewModule(&ModuleOptions{}))
	require.Error(t, err)

	require.Error(t, NewModule(&ModuleOptions{}).Warm(context.Background()))
}

func TestNewTreeSource(t *testing.T) {
	conf := testConfig(t)

	src, err := NewTreeSource(conf)
	require.NoError(t, err)
	require.IsType(t, &treesource.MemorySource{}, src)

	conf.TreeAPI.URL = "http://org.internal/api/v1"
	src, err = NewTreeSource(conf)
	require.NoError(t, err)
	require.IsType(t, &treesource.HTTPClient{}, src)

	conf.TreeAPI.URL = "not a url"
	_, err = NewTreeSource(conf)
	require.Error(t, err)

	conf.TreeAPI.URL = ""
	conf.TreeAPI.SeedPath = ""
	_, err = NewTreeSource(conf)
	require.Error(t, err)

	conf.TreeAPI.SeedPath = filepath.Join("testdata", "missing.json")
	_, err = NewTreeSource(conf)
	require.Error(t, err)
}

func TestModule_CacheWrapsSource(t *testing.T) {
	conf := testConfig(t)
	conf.Cache.Enabled = true
	conf.RedisURL = "http://not-redis"
	err := newApp().RegisterModules(NewModule(&ModuleOptions{Config: conf, Publisher: notify.NoopPublisher{}}))
	require.Error(t, err)
}
