package configuration

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/iota-uz/utils/fs"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/orgchart/pkg/httpapi"
	"github.com/iota-uz/orgchart/pkg/logging"
)

const Production = "production"

var singleton = sync.OnceValue(func() *Configuration {
	c := &Configuration{}
	if err := c.load([]string{".env", ".env.local"}); err != nil {
		c.Unload()
		panic(err)
	}
	return c
})

// LoadEnv loads the given env files from the working directory, falling back to the
// nearest directory that holds a go.mod.
func LoadEnv(envFiles []string) (int, error) {
	existing := existingFiles("", envFiles)
	if len(existing) == 0 {
		if root := moduleRoot(); root != "" {
			existing = existingFiles(root, envFiles)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

func existingFiles(dir string, envFiles []string) []string {
	out := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		path := file
		if dir != "" {
			path = filepath.Join(dir, file)
		}
		if fs.FileExists(path) {
			out = append(out, path)
		}
	}
	return out
}

func moduleRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if fs.FileExists(filepath.Join(dir, "go.mod")) {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

type LoggingOptions struct {
	Level string `env:"LOG_LEVEL" envDefault:"error"`
	Path  string `env:"LOG_PATH" envDefault:"./logs/app.log"`
}

type OpenTelemetryOptions struct {
	Enabled     bool   `env:"OTEL_ENABLED" envDefault:"false"`
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"orgchart"`
	TempoURL    string `env:"OTEL_TEMPO_URL" envDefault:"localhost:4318"`
}

type PrometheusOptions struct {
	Enabled bool   `env:"PROMETHEUS_METRICS_ENABLED" envDefault:"false"`
	Path    string `env:"PROMETHEUS_METRICS_PATH" envDefault:"/debug/prometheus"`
}

type TreeAPIOptions struct {
	URL     string        `env:"ORGCHART_API_URL" envDefault:""`
	Token   string        `env:"ORGCHART_API_TOKEN" envDefault:""`
	Timeout time.Duration `env:"ORGCHART_API_TIMEOUT" envDefault:"10s"`
	// Serves records from a JSON seed file instead of the remote API when URL is empty.
	SeedPath string `env:"ORGCHART_SEED_PATH" envDefault:""`
}

type LayoutOptions struct {
	Direction      string  `env:"ORGCHART_LAYOUT_DIRECTION" envDefault:"TB"`
	RankSpacing    float64 `env:"ORGCHART_RANK_SPACING" envDefault:"80"`
	SiblingSpacing float64 `env:"ORGCHART_SIBLING_SPACING" envDefault:"40"`
}

type SessionOptions struct {
	MaxSessions int           `env:"ORGCHART_MAX_SESSIONS" envDefault:"10000"`
	TTL         time.Duration `env:"ORGCHART_SESSION_TTL" envDefault:"30m"`
}

type CacheOptions struct {
	Enabled bool          `env:"ORGCHART_CACHE_ENABLED" envDefault:"false"`
	TTL     time.Duration `env:"ORGCHART_CACHE_TTL" envDefault:"30s"`
}

type RateLimitOptions struct {
	Enabled bool `env:"RATE_LIMIT_ENABLED" envDefault:"false"`
	// Edits per client IP per second; reads are never throttled.
	GlobalRPS int    `env:"RATE_LIMIT_GLOBAL_RPS" envDefault:"10"`
	Storage   string `env:"RATE_LIMIT_STORAGE" envDefault:"memory"`
}

type Configuration struct {
	Logging       LoggingOptions
	OpenTelemetry OpenTelemetryOptions
	Prometheus    PrometheusOptions
	TreeAPI       TreeAPIOptions
	Layout        LayoutOptions
	Cache         CacheOptions
	Sessions      SessionOptions
	RateLimit     RateLimitOptions

	// Origins allowed to call the API from a browser; empty disables CORS headers.
	CorsOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	// Where picker flows land when the requested return path is not an internal path.
	DefaultLanding string `env:"ORGCHART_DEFAULT_LANDING" envDefault:"/"`

	RedisURL         string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	NATSURL          string `env:"NATS_URL" envDefault:""`
	ServerPort       int    `env:"PORT" envDefault:"3200"`
	GoAppEnvironment string `env:"GO_APP_ENV" envDefault:"development"`
	SocketAddress    string `env:"-"`
	// Looked up on every request; a uuidv4 is generated when absent.
	RequestIDHeader string `env:"REQUEST_ID_HEADER" envDefault:"X-Request-ID"`

	logFile io.Closer
	logger  *logrus.Logger
}

func (c *Configuration) Logger() *logrus.Logger {
	return c.logger
}

func (c *Configuration) LogrusLogLevel() logrus.Level {
	return logging.ParseLevel(c.Logging.Level)
}

func Use() *Configuration {
	return singleton()
}

// Parse reads the environment without touching .env files or opening log files.
func Parse() (*Configuration, error) {
	c := &Configuration{}
	if err := env.Parse(c); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	c.setSocketAddress()
	return c, nil
}

func (c *Configuration) load(envFiles []string) error {
	n, err := LoadEnv(envFiles)
	if err != nil {
		return err
	}
	if n == 0 {
		wd, _ := os.Getwd()
		log.Println("No .env files found. Tried:")
		for _, file := range envFiles {
			log.Println(filepath.Join(wd, file))
		}
	}
	if err := env.Parse(c); err != nil {
		return err
	}
	if err := c.validate(); err != nil {
		return err
	}

	f, logger, err := logging.FileLogger(c.LogrusLogLevel(), c.Logging.Path)
	if err != nil {
		return err
	}
	c.logFile = f
	c.logger = logger
	c.setSocketAddress()
	return nil
}

func (c *Configuration) setSocketAddress() {
	if c.GoAppEnvironment == Production {
		c.SocketAddress = fmt.Sprintf(":%d", c.ServerPort)
	} else {
		c.SocketAddress = fmt.Sprintf("localhost:%d", c.ServerPort)
	}
}

func (c *Configuration) validate() error {
	if err := c.validateLayout(); err != nil {
		return err
	}
	if c.TreeAPI.Timeout <= 0 {
		return fmt.Errorf("invalid ORGCHART_API_TIMEOUT=%s (expected > 0)", c.TreeAPI.Timeout)
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return fmt.Errorf("invalid ORGCHART_CACHE_TTL=%s (expected > 0 when cache is enabled)", c.Cache.TTL)
	}
	if c.Sessions.MaxSessions <= 0 {
		return fmt.Errorf("invalid ORGCHART_MAX_SESSIONS=%d (expected > 0)", c.Sessions.MaxSessions)
	}
	if c.Sessions.TTL <= 0 {
		return fmt.Errorf("invalid ORGCHART_SESSION_TTL=%s (expected > 0)", c.Sessions.TTL)
	}
	switch c.RateLimit.Storage {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid RATE_LIMIT_STORAGE=%q (expected memory|redis)", c.RateLimit.Storage)
	}
	if c.RateLimit.Enabled && c.RateLimit.GlobalRPS <= 0 {
		return fmt.Errorf("invalid RATE_LIMIT_GLOBAL_RPS=%d (expected > 0 when rate limiting is enabled)", c.RateLimit.GlobalRPS)
	}
	if !httpapi.IsInternalPath(c.DefaultLanding) {
		return fmt.Errorf("invalid ORGCHART_DEFAULT_LANDING=%q (expected a same-origin absolute path)", c.DefaultLanding)
	}
	return nil
}

func (c *Configuration) validateLayout() error {
	dir := strings.ToUpper(strings.TrimSpace(c.Layout.Direction))
	if dir == "" {
		dir = "TB"
	}
	switch dir {
	case "TB", "LR":
	default:
		return fmt.Errorf("invalid ORGCHART_LAYOUT_DIRECTION=%q (expected TB|LR)", c.Layout.Direction)
	}
	c.Layout.Direction = dir

	if c.Layout.RankSpacing < 0 || c.Layout.SiblingSpacing < 0 {
		return fmt.Errorf("layout spacing must be non-negative, got rank=%v sibling=%v", c.Layout.RankSpacing, c.Layout.SiblingSpacing)
	}
	return nil
}

// Unload handles a graceful shutdown.
func (c *Configuration) Unload() {
	if c.logFile != nil {
		if err := c.logFile.Close(); err != nil {
			log.Printf("Failed to close log file: %v", err)
		}
	}
}
