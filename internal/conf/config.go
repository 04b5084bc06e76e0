// Package conf loads and validates LiftMate settings.
package conf

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/liftmate/liftmate/internal/alerting"
	"github.com/liftmate/liftmate/internal/errors"
	"github.com/liftmate/liftmate/internal/events"
)

// EnvPrefix is the prefix for environment variable overrides,
// e.g. LIFTMATE_PROXY_ORIGIN.
const EnvPrefix = "LIFTMATE"

// Store drivers.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreMySQL  = "mysql"
)

// DefaultManifest is the asset manifest of the current LiftMate release.
// Relative entries resolve against the proxy origin.
var DefaultManifest = []string{
	"./",
	"./index.html",
	"./css/styles.css",
	"./js/data.js",
	"./js/ui.js",
	"./js/templates.js",
	"./js/exercises.js",
	"./js/workout.js",
	"./js/stats.js",
	"./js/progress.js",
	"./js/history.js",
	"./js/weight.js",
	"./js/app.js",
	"https://fonts.googleapis.com/css2?family=Inter:wght@400;500;600;700&display=swap",
	"https://cdnjs.cloudflare.com/ajax/libs/font-awesome/6.4.0/css/all.min.css",
	"https://cdn.jsdelivr.net/npm/chart.js",
}

// Settings is the full LiftMate configuration.
type Settings struct {
	Main struct {
		Name     string `mapstructure:"name"`
		LogLevel string `mapstructure:"log_level"`
		LogJSON  bool   `mapstructure:"log_json"`
	} `mapstructure:"main"`

	Cache CacheSettings `mapstructure:"cache"`

	Proxy struct {
		Listen            string   `mapstructure:"listen"`
		Origin            string   `mapstructure:"origin"`
		ClientCookie      string   `mapstructure:"client_cookie"`
		AdminPrefix       string   `mapstructure:"admin_prefix"`
		FetchTimeout      Duration `mapstructure:"fetch_timeout"`
		ShutdownTimeout   Duration `mapstructure:"shutdown_timeout"`
		ClientIdleTimeout Duration `mapstructure:"client_idle_timeout"`
	} `mapstructure:"proxy"`

	Origin struct {
		Listen string `mapstructure:"listen"`
		Root   string `mapstructure:"root"`
	} `mapstructure:"origin"`

	PWA struct {
		Name            string `mapstructure:"name"`
		ShortName       string `mapstructure:"short_name"`
		ThemeColor      string `mapstructure:"theme_color"`
		BackgroundColor string `mapstructure:"background_color"`
	} `mapstructure:"pwa"`

	MQTT struct {
		Enabled  bool   `mapstructure:"enabled"`
		Broker   string `mapstructure:"broker"`
		Topic    string `mapstructure:"topic"`
		ClientID string `mapstructure:"client_id"`
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		Retain   bool   `mapstructure:"retain"`
	} `mapstructure:"mqtt"`

	Sentry struct {
		Enabled bool   `mapstructure:"enabled"`
		DSN     string `mapstructure:"dsn"`
	} `mapstructure:"sentry"`

	Metrics struct {
		Enabled bool   `mapstructure:"enabled"`
		Path    string `mapstructure:"path"`
	} `mapstructure:"metrics"`

	Notification NotificationSettings `mapstructure:"notification"`
}

// NotificationSettings configures lifecycle alerts delivered through
// shoutrrr service URLs.
type NotificationSettings struct {
	Enabled bool     `mapstructure:"enabled"`
	URLs    []string `mapstructure:"urls"`
	Timeout Duration `mapstructure:"timeout"`
	// Rules replace the built-in alert rules when non-empty.
	Rules []AlertRule `mapstructure:"rules"`
}

// AlertRules returns the configured rules, or alerting.DefaultRules when
// none are set.
func (n NotificationSettings) AlertRules() []alerting.Rule {
	if len(n.Rules) == 0 {
		return alerting.DefaultRules()
	}
	rules := make([]alerting.Rule, 0, len(n.Rules))
	for _, r := range n.Rules {
		conds := make([]alerting.Condition, 0, len(r.Conditions))
		for _, c := range r.Conditions {
			conds = append(conds, alerting.Condition{Property: c.Property, Operator: c.Operator, Value: c.Value})
		}
		rules = append(rules, alerting.Rule{
			Name:       r.Name,
			Event:      r.Event,
			Conditions: conds,
			Title:      r.Title,
			Message:    r.Message,
			Cooldown:   r.Cooldown.Std(),
		})
	}
	return rules
}

// AlertRule fires a notification for matching lifecycle events.
type AlertRule struct {
	Name       string           `mapstructure:"name"`
	Event      string           `mapstructure:"event"`
	Conditions []AlertCondition `mapstructure:"conditions"`
	Title      string           `mapstructure:"title"`
	Message    string           `mapstructure:"message"`
	Cooldown   Duration         `mapstructure:"cooldown"`
}

// AlertCondition compares an event property with a value.
type AlertCondition struct {
	Property string `mapstructure:"property"`
	Operator string `mapstructure:"operator"`
	Value    string `mapstructure:"value"`
}

// CacheSettings configures the offline asset cache.
type CacheSettings struct {
	// Version is the cache namespace, bumped to invalidate the previous cache.
	Version string `mapstructure:"version"`
	// Manifest lists the URLs that must be cached at install time.
	Manifest []string `mapstructure:"manifest"`
	// ShellPage is served for HTML requests when the network is unavailable.
	ShellPage string `mapstructure:"shell_page"`
	// InstallTimeout bounds manifest fetching; zero waits indefinitely.
	InstallTimeout Duration `mapstructure:"install_timeout"`
	Store          struct {
		Driver string `mapstructure:"driver"`
		Path   string `mapstructure:"path"`
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"store"`
}

var (
	settingsInstance *Settings
	settingsMu       sync.RWMutex
)

// GetSettings returns the settings stored by the last successful Load, or nil.
func GetSettings() *Settings {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return settingsInstance
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("main.name", "liftmate")
	v.SetDefault("main.log_level", "info")
	v.SetDefault("main.log_json", false)

	v.SetDefault("cache.version", "liftmate-v1")
	v.SetDefault("cache.manifest", DefaultManifest)
	v.SetDefault("cache.shell_page", "./index.html")
	v.SetDefault("cache.install_timeout", "0s")
	v.SetDefault("cache.store.driver", StoreSQLite)
	v.SetDefault("cache.store.path", defaultStorePath())
	v.SetDefault("cache.store.dsn", "")

	v.SetDefault("proxy.listen", ":8080")
	v.SetDefault("proxy.origin", "http://localhost:8081/")
	v.SetDefault("proxy.client_cookie", "liftmate_client")
	v.SetDefault("proxy.admin_prefix", "/_liftmate")
	v.SetDefault("proxy.fetch_timeout", "30s")
	v.SetDefault("proxy.shutdown_timeout", "10s")
	v.SetDefault("proxy.client_idle_timeout", "30m")

	v.SetDefault("origin.listen", ":8081")
	v.SetDefault("origin.root", "./public")

	v.SetDefault("pwa.name", "LiftMate")
	v.SetDefault("pwa.short_name", "LiftMate")
	v.SetDefault("pwa.theme_color", "#1e88e5")
	v.SetDefault("pwa.background_color", "#ffffff")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.topic", "liftmate")
	v.SetDefault("mqtt.client_id", "liftmate-proxy")
	v.SetDefault("mqtt.retain", false)

	v.SetDefault("sentry.enabled", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("notification.enabled", false)
	v.SetDefault("notification.timeout", "30s")
}

func defaultStorePath() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "liftmate", "offline-cache.db")
	}
	return "offline-cache.db"
}

// Load reads settings from configFile (or the standard search paths when
// empty), applies LIFTMATE_* environment overrides and validates the result.
func Load(configFile string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("liftmate")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "liftmate"))
		}
		v.AddConfigPath("/etc/liftmate")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, errors.New(err).
				Component("conf").
				Category(errors.CategoryConfig).
				Context("operation", "read_config").
				Context("file", configFile).
				Build()
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings, viper.DecodeHook(DurationDecodeHook()), func(c *mapstructure.DecoderConfig) {
		c.WeaklyTypedInput = true
	}); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfig).
			Context("operation", "unmarshal_config").
			Build()
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}

	settingsMu.Lock()
	settingsInstance = settings
	settingsMu.Unlock()
	return settings, nil
}

// Validate checks settings for values the rest of the program cannot handle.
func (s *Settings) Validate() error {
	invalid := func(field string, format string, args ...any) error {
		return errors.Newf(format, args...).
			Component("conf").
			Category(errors.CategoryValidation).
			Context("field", field).
			Build()
	}

	if strings.TrimSpace(s.Cache.Version) == "" {
		return invalid("cache.version", "cache version must not be empty")
	}
	if len(s.Cache.Manifest) == 0 {
		return invalid("cache.manifest", "cache manifest must list at least one URL")
	}
	if s.Cache.ShellPage == "" {
		return invalid("cache.shell_page", "shell page must not be empty")
	}
	if s.Cache.InstallTimeout < 0 {
		return invalid("cache.install_timeout", "install timeout must not be negative")
	}

	switch s.Cache.Store.Driver {
	case StoreMemory:
	case StoreSQLite:
		if s.Cache.Store.Path == "" {
			return invalid("cache.store.path", "sqlite store requires a path")
		}
	case StoreMySQL:
		if s.Cache.Store.DSN == "" {
			return invalid("cache.store.dsn", "mysql store requires a dsn")
		}
	default:
		return invalid("cache.store.driver", "unsupported store driver %q (valid: memory, sqlite, mysql)", s.Cache.Store.Driver)
	}

	origin, err := url.Parse(s.Proxy.Origin)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return invalid("proxy.origin", "proxy origin %q must be an absolute URL", s.Proxy.Origin)
	}
	if !strings.HasPrefix(s.Proxy.AdminPrefix, "/") {
		return invalid("proxy.admin_prefix", "admin prefix %q must start with /", s.Proxy.AdminPrefix)
	}
	if s.Proxy.ClientIdleTimeout < 0 {
		return invalid("proxy.client_idle_timeout", "client idle timeout must not be negative")
	}
	if s.Proxy.ClientCookie == "" {
		return invalid("proxy.client_cookie", "client cookie name must not be empty")
	}

	if s.MQTT.Enabled && s.MQTT.Broker == "" {
		return invalid("mqtt.broker", "mqtt is enabled but no broker is configured")
	}
	if s.Sentry.Enabled && s.Sentry.DSN == "" {
		return invalid("sentry.dsn", "sentry is enabled but no dsn is configured")
	}
	if s.Notification.Enabled && len(s.Notification.URLs) == 0 {
		return invalid("notification.urls", "notifications are enabled but no service URLs are configured")
	}
	for i, rule := range s.Notification.Rules {
		field := fmt.Sprintf("notification.rules[%d]", i)
		if !slices.Contains(events.Kinds(), rule.Event) {
			return invalid(field+".event", "unknown lifecycle event %q", rule.Event)
		}
		for _, cond := range rule.Conditions {
			if cond.Property == "" || !alerting.ValidOperator(cond.Operator) {
				return invalid(field+".conditions", "invalid condition %q %q", cond.Property, cond.Operator)
			}
		}
	}
	return nil
}

// OriginURL returns the parsed proxy origin with a trailing slash on the
// path so relative manifest entries resolve inside it.
func (s *Settings) OriginURL() (*url.URL, error) {
	u, err := url.Parse(s.Proxy.Origin)
	if err != nil {
		return nil, fmt.Errorf("parse proxy origin: %w", err)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u, nil
}

// FetchTimeout returns the per-request network timeout, zero meaning none.
func (s *Settings) FetchTimeout() time.Duration {
	return s.Proxy.FetchTimeout.Std()
}
