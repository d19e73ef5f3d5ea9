// Package plugin is the SDK every winstat module is written against: the
// lifecycle interface, the optional capabilities a module may add, and the
// shared services the registry injects at Init.
package plugin

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// The registry accepts plugins whose APIVersion lies in
// [APIVersionMin, APIVersionCurrent].
const (
	APIVersionMin     = 1
	APIVersionCurrent = 1
)

// Plugin is the lifecycle every module implements. The registry calls Init
// once in dependency order, then Start, and finally Stop in reverse order.
type Plugin interface {
	Info() PluginInfo
	Init(ctx context.Context, deps Dependencies) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type PluginInfo struct {
	Name         string   // unique; also the route prefix /api/v1/<Name>
	Version      string   // semver
	Description  string
	Dependencies []string // plugins that must initialize first
	Required     bool     // startup fails if this plugin cannot run
	Roles        []string // see package roles
	APIVersion   int
}

// Dependencies are the shared services handed to Init. Store and Bus may
// be nil in tests.
type Dependencies struct {
	Config  Config // the plugins.<name> section
	Logger  *zap.Logger
	Store   Store
	Bus     EventBus
	Plugins PluginResolver
}

// Optional capabilities, detected by type assertion.
type (
	// HTTPProvider routes are mounted under /api/v1/<plugin name>.
	HTTPProvider interface {
		Routes() []Route
	}

	HealthChecker interface {
		Health(ctx context.Context) HealthStatus
	}

	// EventSubscriber handlers are subscribed by the registry after Init
	// and removed at StopAll.
	EventSubscriber interface {
		Subscriptions() []Subscription
	}

	// Validator runs after Init. An error disables the plugin, or aborts
	// startup when it is Required.
	Validator interface {
		ValidateConfig() error
	}
)

type Route struct {
	Method  string
	Path    string // relative to the plugin prefix; may use ServeMux wildcards
	Handler http.HandlerFunc
}

// Health states reported in HealthStatus.Status.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

type HealthStatus struct {
	Status  string            `json:"status"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// Config is a plugin's view of its configuration section.
type Config interface {
	Unmarshal(target any) error
	Get(key string) any
	GetString(key string) string
	GetInt(key string) int
	GetBool(key string) bool
	GetDuration(key string) time.Duration
	IsSet(key string) bool
	Sub(key string) Config
}

// Store is the shared database. Each plugin migrates its own tables,
// tracked under its name.
type Store interface {
	DB() *sql.DB
	Tx(ctx context.Context, fn func(tx *sql.Tx) error) error
	Migrate(ctx context.Context, pluginName string, migrations []Migration) error
}

// Migration versions must be strictly ascending within a plugin.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Subscriber accepts an exact topic, a "prefix.*" pattern, or "*".
type Subscriber interface {
	Subscribe(pattern string, handler EventHandler) (unsubscribe func())
}

type EventBus interface {
	Publisher
	Subscriber
	PublishAsync(ctx context.Context, event Event)
	SubscribeAll(handler EventHandler) (unsubscribe func())
}

// Event payload types are fixed per topic; see package analytics.
type Event struct {
	Topic     string
	Source    string
	Timestamp time.Time
	Payload   any
}

type EventHandler func(ctx context.Context, event Event)

type Subscription struct {
	Topic   string
	Handler EventHandler
}

type PluginResolver interface {
	Resolve(name string) (Plugin, bool)
	ResolveByRole(role string) []Plugin
}
