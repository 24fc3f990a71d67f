// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	humanize "github.com/dustin/go-humanize"
	toml "github.com/pelletier/go-toml/v2"
	"go.uber.org/multierr"

	"intercept-proxy-go/internal/codec"
	"intercept-proxy-go/internal/model"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/intercept-proxy/config.toml",
	"configs/config.toml",
}

// reservedRoutes are served by the proxy itself and never forwarded.
var reservedRoutes = []string{"/healthz", "/proxy/status"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host     string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	Target   string `kong:"short='t',help='Target host specifier, e.g. https://example.org (overrides config).',env='PROXY_TARGET'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Proxy   ProxyConfig   `toml:"proxy"`
	Hooks   HooksConfig   `toml:"hooks"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64  `toml:"body_max_bytes"`
	// StripHopByHop removes hop-by-hop headers from inbound requests before
	// they are proxied. Off by default: every inbound header except
	// Connection, Content-Length and Host is forwarded.
	StripHopByHop bool            `toml:"strip_hop_by_hop"`
	RateLimit     RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// ProxyConfig holds the per-instance pipeline options.
type ProxyConfig struct {
	// Host is the target specifier, e.g. "example.org" or "https://api.example.org:8443".
	Host string `toml:"host"`
	// Port overrides the port resolved from Host when non-zero.
	Port int `toml:"port"`
	// Limit is the maximum inbound body size: an integer byte count or a
	// size string such as "1mb" or "512KiB".
	Limit any `toml:"limit"`
	// ReqBodyEncoding is the text encoding for inbound bodies. Absent means
	// utf-8; an empty string keeps raw bytes.
	ReqBodyEncoding    *string           `toml:"req_body_encoding"`
	ReqAsBuffer        bool              `toml:"req_as_buffer"`
	PreserveHostHeader bool              `toml:"preserve_host_header"`
	PreserveSession    bool              `toml:"preserve_session"`
	TimeoutMillis      int               `toml:"timeout_ms"` // 0 disables the timeout
	Headers            map[string]string `toml:"headers"`
}

// HooksConfig describes the extension hooks built from configuration.
type HooksConfig struct {
	// Filter is a CEL expression over `request`; false passes the request through.
	Filter    string          `toml:"filter"`
	Rewrite   []RewriteRule   `toml:"rewrite"`
	Decorate  DecorateConfig  `toml:"decorate"`
	Intercept InterceptConfig `toml:"intercept"`
}

// RewriteRule rewrites the outbound path. The first matching rule wins.
type RewriteRule struct {
	Pattern     string `toml:"pattern"`
	Replacement string `toml:"replacement"`
}

// DecorateConfig edits outbound request headers.
type DecorateConfig struct {
	SetHeaders    map[string]string `toml:"set_headers"`
	RemoveHeaders []string          `toml:"remove_headers"`
}

// InterceptConfig edits upstream responses before delivery.
type InterceptConfig struct {
	SetHeaders    map[string]string `toml:"set_headers"`
	RemoveHeaders []string          `toml:"remove_headers"`
	Replace       []Replacement     `toml:"replace"`
}

// Replacement substitutes every occurrence of From with To in the response body.
type Replacement struct {
	From string `toml:"from"`
	To   string `toml:"to"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/intercept-proxy/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}

	var cfg Config
	switch {
	case path != "":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	case cli.Target == "":
		return nil, fmt.Errorf("config: no config file found (searched %v) and no --target given", configSearchPaths)
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.Target != "" {
		c.Proxy.Host = cli.Target
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

// validate checks every setting and reports all problems at once.
func (c *Config) validate() error {
	var errs error

	errs = multierr.Append(errs, c.Proxy.validate())

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = multierr.Append(errs, fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port))
	}
	if c.Server.BodyMaxBytes < 0 {
		errs = multierr.Append(errs, fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes))
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond))
	}

	for i, r := range c.Hooks.Rewrite {
		if r.Pattern == "" {
			errs = multierr.Append(errs, fmt.Errorf("hooks.rewrite[%d].pattern is required", i))
			continue
		}
		if _, err := regexp.Compile(r.Pattern); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("hooks.rewrite[%d].pattern is invalid: %w", i, err))
		}
	}
	for i, r := range c.Hooks.Intercept.Replace {
		if r.From == "" {
			errs = multierr.Append(errs, fmt.Errorf("hooks.intercept.replace[%d].from must not be empty", i))
		}
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		errs = multierr.Append(errs, fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
		// valid
	default:
		errs = multierr.Append(errs, fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format))
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			errs = multierr.Append(errs, fmt.Errorf("metrics.path must start with '/'; got %q", p))
		}
		for _, reserved := range reservedRoutes {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				errs = multierr.Append(errs, fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved))
			}
		}
	}

	return errs
}

func (p *ProxyConfig) validate() error {
	var errs error

	if p.Host == "" {
		errs = multierr.Append(errs, fmt.Errorf("proxy.host is required"))
	} else if err := validateHost(p.Host); err != nil {
		errs = multierr.Append(errs, err)
	}
	if p.Port < 0 || p.Port > 65535 {
		errs = multierr.Append(errs, fmt.Errorf("proxy.port must be 0–65535; got %d", p.Port))
	}
	if p.TimeoutMillis < 0 {
		errs = multierr.Append(errs, fmt.Errorf("proxy.timeout_ms must be non-negative; got %d", p.TimeoutMillis))
	}

	if _, err := parseLimit(p.Limit); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, err := codec.ParseEncoding(p.ReqBodyEncoding); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("proxy.req_body_encoding: %w", err))
	}

	return errs
}

// validateHost rejects target specifiers that cannot yield a hostname.
func validateHost(host string) error {
	if _, err := model.ParseHostSpec(host, 0); err != nil {
		return fmt.Errorf("proxy.host: %w", err)
	}
	return nil
}

// shortByteUnit matches sizes such as "1mb" or "100 KB". These count in
// powers of 1024, so "1mb" is the same 1 MiB as the default limit.
var shortByteUnit = regexp.MustCompile(`(?i)^(\d+(?:\.\d+)?)\s*([kmgtp])b$`)

// parseLimit accepts a TOML integer or a size string. Zero means unset.
func parseLimit(v any) (int64, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case int64:
		if t < 0 {
			return 0, fmt.Errorf("proxy.limit must be non-negative; got %d", t)
		}
		return t, nil
	case string:
		raw := strings.TrimSpace(t)
		if raw == "" {
			return 0, nil
		}
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n >= 0 {
			return n, nil
		}
		if m := shortByteUnit.FindStringSubmatch(raw); m != nil {
			raw = m[1] + strings.ToUpper(m[2]) + "iB"
		}
		n, err := humanize.ParseBytes(raw)
		if err != nil {
			return 0, fmt.Errorf("proxy.limit %q is not a valid size: %w", t, err)
		}
		return int64(n), nil
	default:
		return 0, fmt.Errorf("proxy.limit must be an integer or a size string; got %T", v)
	}
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key. Setting port=0 in
// the config file therefore results in the default port (8000).
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// LimitBytes returns the inbound body limit in bytes, defaulting to 1 MiB.
func (p *ProxyConfig) LimitBytes() int64 {
	n, err := parseLimit(p.Limit)
	if err != nil || n == 0 {
		return codec.DefaultLimit
	}
	return n
}

// Encoding returns the request body encoding. Validation has already
// rejected unknown names.
func (p *ProxyConfig) Encoding() codec.Encoding {
	enc, err := codec.ParseEncoding(p.ReqBodyEncoding)
	if err != nil {
		return codec.UTF8()
	}
	return enc
}

// Timeout returns the outbound idle timeout; zero disables it.
func (p *ProxyConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutMillis) * time.Millisecond
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
