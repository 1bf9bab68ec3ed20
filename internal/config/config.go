package config

import "time"

type Config struct {
	ConfigVersion int           `yaml:"configVersion"`
	Server        ServerConfig  `yaml:"server"`
	Site          string        `yaml:"site"`
	Routing       RoutingConfig `yaml:"routing"`
	Origin        OriginConfig  `yaml:"origin"`
	Rewrite       RewriteConfig `yaml:"rewrite"`
	Rules         []Rule        `yaml:"rules"`
	Logging       LoggingConfig `yaml:"logging"`
	Metrics       MetricsConfig `yaml:"metrics"`

	baseDir string `yaml:"-"`
}

type ServerConfig struct {
	Listen string    `yaml:"listen"`
	TLS    TLSConfig `yaml:"tls"`
}

type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"certFile"`
	KeyFile  string `yaml:"keyFile"`
}

// RoutingConfig controls how inbound requests are classified.
type RoutingConfig struct {
	HostHeader   string `yaml:"hostHeader"`
	BypassHeader string `yaml:"bypassHeader"`
	BypassToken  string `yaml:"bypassToken"`
	AcceptToken  string `yaml:"acceptToken"`
	AcceptMatch  string `yaml:"acceptMatch"`
	RobotsPath   string `yaml:"robotsPath"`
	RobotsBody   string `yaml:"robotsBody"`
}

type OriginConfig struct {
	Scheme  string        `yaml:"scheme"`
	Timeout time.Duration `yaml:"timeout"`
	// FlushInterval <= 0 flushes after every write.
	FlushInterval time.Duration `yaml:"flushInterval"`
	MaxIdleConns  int           `yaml:"maxIdleConns"`
}

// RewriteConfig tunes the streaming rewriter. MarkerAttribute and
// FenceComment accept "none" to turn the feature off.
type RewriteConfig struct {
	MarkerAttribute  string   `yaml:"markerAttribute"`
	FenceComment     string   `yaml:"fenceComment"`
	MaxTokenBytes    int      `yaml:"maxTokenBytes"`
	HTMLContentTypes []string `yaml:"htmlContentTypes"`
	ResponseMarker   string   `yaml:"responseMarker"`
}

// Rule is one selector bound to one action. Which of the remaining fields
// are read depends on Action.
type Rule struct {
	ID          string `yaml:"id"`
	Selector    string `yaml:"selector"`
	Action      string `yaml:"action"`
	Attribute   string `yaml:"attribute"`
	Value       string `yaml:"value"`
	Old         string `yaml:"old"`
	New         string `yaml:"new"`
	Pattern     string `yaml:"pattern"`
	Position    string `yaml:"position"`
	Content     string `yaml:"content"`
	ContentFile string `yaml:"contentFile"`
	HTML        bool   `yaml:"html"`
	Prefix      string `yaml:"prefix"`
	Suffix      string `yaml:"suffix"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	AccessLog  string `yaml:"accessLog"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

const (
	ActionRemove           = "remove"
	ActionReplace          = "replace"
	ActionSetAttribute     = "setAttribute"
	ActionRewriteAttribute = "rewriteAttribute"
	ActionRemoveAttribute  = "removeAttribute"
	ActionInsert           = "insert"
	ActionWrap             = "wrap"
)

const (
	PositionBefore  = "before"
	PositionAfter   = "after"
	PositionPrepend = "prepend"
	PositionAppend  = "append"
)

const (
	AcceptSubstring = "substring"
	AcceptMediaType = "mediaType"
)

const (
	DefaultListen         = ":8080"
	DefaultHostHeader     = "x-host"
	DefaultBypassHeader   = "x-bypass-transform"
	DefaultBypassToken    = "true"
	DefaultAcceptToken    = "text/html"
	DefaultRobotsPath     = "/robots.txt"
	DefaultRobotsBody     = "User-agent: *\nDisallow: /"
	DefaultOriginScheme   = "https"
	DefaultOriginTimeout  = 30 * time.Second
	DefaultMaxIdleConns   = 100
	DefaultMaxTokenBytes  = 1 << 20
	DefaultResponseMarker = "X-Edge-Rewrite"
	DefaultMarker         = "data-edge-rewrite"
	DefaultFence          = "edge-rewrite"
	Disabled              = "none"
	DefaultMetricsListen  = ":9090"
)

// Default returns a configuration with every default applied and no rules.
func Default() *Config {
	cfg := &Config{ConfigVersion: 1}
	cfg.ApplyDefaults()
	return cfg
}

func (c *Config) ApplyDefaults() {
	setDefault(&c.Server.Listen, DefaultListen)

	setDefault(&c.Routing.HostHeader, DefaultHostHeader)
	setDefault(&c.Routing.BypassHeader, DefaultBypassHeader)
	setDefault(&c.Routing.BypassToken, DefaultBypassToken)
	setDefault(&c.Routing.AcceptToken, DefaultAcceptToken)
	setDefault(&c.Routing.AcceptMatch, AcceptSubstring)
	setDefault(&c.Routing.RobotsPath, DefaultRobotsPath)
	setDefault(&c.Routing.RobotsBody, DefaultRobotsBody)

	setDefault(&c.Origin.Scheme, DefaultOriginScheme)
	if c.Origin.Timeout <= 0 {
		c.Origin.Timeout = DefaultOriginTimeout
	}
	if c.Origin.MaxIdleConns <= 0 {
		c.Origin.MaxIdleConns = DefaultMaxIdleConns
	}

	if c.Rewrite.MaxTokenBytes <= 0 {
		c.Rewrite.MaxTokenBytes = DefaultMaxTokenBytes
	}
	if len(c.Rewrite.HTMLContentTypes) == 0 {
		c.Rewrite.HTMLContentTypes = []string{"text/html", "application/xhtml+xml"}
	}
	setDefault(&c.Rewrite.ResponseMarker, DefaultResponseMarker)
	setDefault(&c.Rewrite.MarkerAttribute, DefaultMarker)
	setDefault(&c.Rewrite.FenceComment, DefaultFence)

	setDefault(&c.Logging.Level, "info")
	setDefault(&c.Logging.Format, "text")

	if c.Metrics.Enabled {
		setDefault(&c.Metrics.Listen, DefaultMetricsListen)
	}
}

// Marker returns the marker attribute name, or "" when disabled.
func (r RewriteConfig) Marker() string {
	if r.MarkerAttribute == Disabled {
		return ""
	}
	return r.MarkerAttribute
}

// Fence returns the fence comment name, or "" when disabled.
func (r RewriteConfig) Fence() string {
	if r.FenceComment == Disabled {
		return ""
	}
	return r.FenceComment
}

func (c *Config) BaseDir() string {
	return c.baseDir
}

func (c *Config) ResolvePath(path string) string {
	return c.resolvePath(path)
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}
