// Package config loads the call agent configuration from the environment.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pion/webrtc/v4"

	"taskboard-calls/pkg/constants"
	envutil "taskboard-calls/pkg/env"
	"taskboard-calls/pkg/logger"
)

// Ringtone sinks
const (
	RingtoneBell = "bell"
	RingtoneLog  = "log"
	RingtoneOff  = "off"
)

// Config holds all configuration for the call agent
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	Ringtone    string `env:"RINGTONE" envDefault:"bell"`

	Signal   SignalConfig
	Control  ControlConfig
	Call     CallConfig
	Media    MediaConfig
	History  HistoryConfig
	DevToken DevTokenConfig
	Log      LogConfig
}

// SignalConfig holds event channel configuration
type SignalConfig struct {
	URL string `env:"SIGNAL_URL"`
	// Token may also come from the file named by AUTH_TOKEN_FILE
	Token      string        `env:"AUTH_TOKEN"`
	MinBackoff time.Duration `env:"RECONNECT_MIN_BACKOFF" envDefault:"500ms"`
	MaxBackoff time.Duration `env:"RECONNECT_MAX_BACKOFF" envDefault:"30s"`
}

// ControlConfig holds the local control API configuration
type ControlConfig struct {
	Addr           string   `env:"CONTROL_ADDR" envDefault:"127.0.0.1:7070"`
	AllowedOrigins []string `env:"CONTROL_ALLOWED_ORIGINS" envSeparator:","`
	// Token, when set, is required as a bearer token on every /v1 request
	Token string `env:"CONTROL_TOKEN"`
}

// CallConfig holds signaling timings
type CallConfig struct {
	RingTimeout       time.Duration `env:"RING_TIMEOUT" envDefault:"30s"`
	BootstrapInterval time.Duration `env:"BOOTSTRAP_RETRY_INTERVAL" envDefault:"2s"`
	BootstrapAttempts int           `env:"BOOTSTRAP_MAX_ATTEMPTS" envDefault:"5"`
	EmitTimeout       time.Duration `env:"EMIT_TIMEOUT" envDefault:"5s"`
}

// MediaConfig holds ICE configuration for the media session
type MediaConfig struct {
	ICEServerURLs  []string `env:"ICE_SERVERS" envSeparator:"," envDefault:"stun:stun.l.google.com:19302"`
	TURNUsername   string   `env:"TURN_USERNAME"`
	TURNCredential string   `env:"TURN_CREDENTIAL"`
}

// HistoryConfig holds the call history store. An empty address disables history.
type HistoryConfig struct {
	RedisAddr     string `env:"HISTORY_REDIS_ADDR"`
	RedisPassword string `env:"HISTORY_REDIS_PASSWORD"`
	RedisDB       int    `env:"HISTORY_REDIS_DB" envDefault:"0"`
}

// DevTokenConfig is used by the token command to mint local test identities
type DevTokenConfig struct {
	Secret string        `env:"JWT_SECRET"`
	Issuer string        `env:"JWT_ISSUER" envDefault:"taskboard"`
	TTL    time.Duration `env:"JWT_TTL" envDefault:"24h"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level    string `env:"LOG_LEVEL" envDefault:"info"`
	Format   string `env:"LOG_FORMAT" envDefault:"text"`
	Output   string `env:"LOG_OUTPUT" envDefault:"stdout"`
	FilePath string `env:"LOG_FILE_PATH"`
}

// Load parses the environment and validates the result
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Signal.Token, err = envutil.SecretOr("AUTH_TOKEN", cfg.Signal.Token); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDevToken parses only the settings the token command needs
func LoadDevToken() (*DevTokenConfig, error) {
	cfg, err := env.ParseAs[DevTokenConfig]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Secret, err = envutil.SecretOr("JWT_SECRET", cfg.Secret); err != nil {
		return nil, err
	}
	if len(cfg.Secret) < 32 {
		return nil, fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	return &cfg, nil
}

// Validate checks the settings the agent cannot run without
func (c *Config) Validate() error {
	if c.Signal.URL == "" {
		return fmt.Errorf("SIGNAL_URL must be set")
	}
	u, err := url.Parse(c.Signal.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("SIGNAL_URL must be a ws:// or wss:// URL, got %q", c.Signal.URL)
	}
	if c.Environment == "production" && u.Scheme != "wss" {
		return fmt.Errorf("SIGNAL_URL must use wss:// in production")
	}

	switch c.Ringtone {
	case RingtoneBell, RingtoneLog, RingtoneOff:
	default:
		return fmt.Errorf("RINGTONE must be one of bell, log, off, got %q", c.Ringtone)
	}

	if c.Call.RingTimeout <= 0 {
		return fmt.Errorf("RING_TIMEOUT must be positive")
	}
	if c.Call.BootstrapAttempts < 1 {
		return fmt.Errorf("BOOTSTRAP_MAX_ATTEMPTS must be at least 1")
	}
	if c.Call.BootstrapInterval <= 0 || c.Call.EmitTimeout <= 0 {
		return fmt.Errorf("BOOTSTRAP_RETRY_INTERVAL and EMIT_TIMEOUT must be positive")
	}
	if c.Signal.MinBackoff <= 0 || c.Signal.MaxBackoff < c.Signal.MinBackoff {
		return fmt.Errorf("RECONNECT_MIN_BACKOFF must be positive and not above RECONNECT_MAX_BACKOFF")
	}

	if c.Signal.Token == "" {
		logger.Warn("AUTH_TOKEN is not set; calls stay unavailable until a token is provided")
	}
	return nil
}

// ICEServers converts the configured URLs for pion. TURN entries carry the credentials.
func (m MediaConfig) ICEServers() []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(m.ICEServerURLs))
	for _, raw := range m.ICEServerURLs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		server := webrtc.ICEServer{URLs: []string{raw}}
		if strings.HasPrefix(raw, "turn:") || strings.HasPrefix(raw, "turns:") {
			server.Username = m.TURNUsername
			server.Credential = m.TURNCredential
		}
		servers = append(servers, server)
	}
	return servers
}

// Logger returns the logger configuration
func (l LogConfig) Logger() *logger.Config {
	return &logger.Config{
		Level:    l.Level,
		Format:   l.Format,
		Output:   l.Output,
		FilePath: l.FilePath,
	}
}

// ShutdownTimeout bounds graceful shutdown of the control API
func (c *Config) ShutdownTimeout() time.Duration {
	return constants.GracefulShutdownTimeout
}
