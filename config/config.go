package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/InsulaLabs/skiff/eval"
)

const (
	SnippetsDirName = "snippets"
	KeysDirName     = "keys"
)

type Logging struct {
	Level string `yaml:"level"`
}

type TLS struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

type RateLimiterConfig struct {
	Limit float64 `yaml:"limit"` // Requests per second
	Burst int     `yaml:"burst"` // Burst size
}

type RateLimiters struct {
	Parse    RateLimiterConfig `yaml:"parse"`
	Eval     RateLimiterConfig `yaml:"eval"`
	Snippets RateLimiterConfig `yaml:"snippets"`
	Sessions RateLimiterConfig `yaml:"sessions"`
	Default  RateLimiterConfig `yaml:"default"`
}

type SessionsConfig struct {
	WebSocketReadBufferSize  int `yaml:"webSocketReadBufferSize"`
	WebSocketWriteBufferSize int `yaml:"webSocketWriteBufferSize"`
	MaxConnections           int `yaml:"maxConnections"`
}

type ServiceConfig struct {
	HttpBinding    string         `yaml:"httpBinding"`
	ClientDomain   string         `yaml:"clientDomain,omitempty"`
	TLS            TLS            `yaml:"tls"`
	ApiKeys        []string       `yaml:"apiKeys,omitempty"` // Empty leaves the playground open
	MaxSourceBytes int            `yaml:"maxSourceBytes"`
	ParseCacheTTL  time.Duration  `yaml:"parseCacheTTL"`
	RateLimiters   RateLimiters   `yaml:"rateLimiters"`
	Sessions       SessionsConfig `yaml:"sessions"`
}

type SSHConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Binding        string `yaml:"binding,omitempty"`
	HostKeyPath    string `yaml:"hostKeyPath,omitempty"`    // Defaults to <skiffHome>/keys/ssh_host
	AuthorizedKeys string `yaml:"authorizedKeys,omitempty"` // Path to an authorized_keys file; empty admits any key
}

type StoreConfig struct {
	SnippetTTL time.Duration `yaml:"snippetTTL"` // Zero keeps snippets forever
}

type Config struct {
	SkiffHome       string        `yaml:"skiffHome"`
	DefaultStrategy string        `yaml:"defaultStrategy"`
	Logging         Logging       `yaml:"logging"`
	Service         ServiceConfig `yaml:"service"`
	SSH             SSHConfig     `yaml:"ssh"`
	Store           StoreConfig   `yaml:"store"`
}

var (
	ErrConfigFileMissing        = errors.New("config file is missing")
	ErrConfigFileUnreadable     = errors.New("config file is unreadable")
	ErrConfigFileUnmarshallable = errors.New("config file is unmarshallable")
	ErrSkiffHomeMissing         = errors.New("skiffHome is missing in config")
	ErrDefaultStrategyInvalid   = errors.New("defaultStrategy must be one of: strict, lazy, lexical")
	ErrHttpBindingMissing       = errors.New("service.httpBinding is missing in config")
	ErrTLSMissing               = errors.New("TLS configuration incomplete: both cert and key must be provided if one is specified")
	ErrMaxSourceBytesMissing    = errors.New("service.maxSourceBytes is missing or invalid in config")
	ErrParseCacheTTLMissing     = errors.New("service.parseCacheTTL is missing in config")

	ErrRateLimitersParseLimitMissing    = errors.New("service.rateLimiters.parse.limit is missing in config")
	ErrRateLimitersEvalLimitMissing     = errors.New("service.rateLimiters.eval.limit is missing in config")
	ErrRateLimitersSnippetsLimitMissing = errors.New("service.rateLimiters.snippets.limit is missing in config")
	ErrRateLimitersSessionsLimitMissing = errors.New("service.rateLimiters.sessions.limit is missing in config")
	ErrRateLimitersDefaultLimitMissing  = errors.New("service.rateLimiters.default.limit is missing in config")

	ErrSessionsWebSocketReadBufferSizeMissing  = errors.New("service.sessions.webSocketReadBufferSize is missing or invalid in config")
	ErrSessionsWebSocketWriteBufferSizeMissing = errors.New("service.sessions.webSocketWriteBufferSize is missing or invalid in config")
	ErrSessionsMaxConnectionsMissing           = errors.New("service.sessions.maxConnections is missing or invalid in config")

	ErrSSHBindingMissing = errors.New("ssh.binding is required when ssh is enabled")
)

func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigFileMissing
		}
		return nil, ErrConfigFileUnreadable
	}

	var cfg Config
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, ErrConfigFileUnmarshallable
	}

	if cfg.SkiffHome == "" {
		return nil, ErrSkiffHomeMissing
	}

	if !eval.Strategy(cfg.DefaultStrategy).Valid() {
		return nil, ErrDefaultStrategyInvalid
	}

	if cfg.Service.HttpBinding == "" {
		return nil, ErrHttpBindingMissing
	}

	if cfg.Service.TLS.Cert != "" && cfg.Service.TLS.Key == "" ||
		cfg.Service.TLS.Cert == "" && cfg.Service.TLS.Key != "" {
		return nil, ErrTLSMissing
	}

	if cfg.Service.MaxSourceBytes <= 0 {
		return nil, ErrMaxSourceBytesMissing
	}

	if cfg.Service.ParseCacheTTL == 0 {
		return nil, ErrParseCacheTTLMissing
	}

	if cfg.Service.RateLimiters.Parse.Limit == 0 {
		return nil, ErrRateLimitersParseLimitMissing
	}
	if cfg.Service.RateLimiters.Eval.Limit == 0 {
		return nil, ErrRateLimitersEvalLimitMissing
	}
	if cfg.Service.RateLimiters.Snippets.Limit == 0 {
		return nil, ErrRateLimitersSnippetsLimitMissing
	}
	if cfg.Service.RateLimiters.Sessions.Limit == 0 {
		return nil, ErrRateLimitersSessionsLimitMissing
	}
	if cfg.Service.RateLimiters.Default.Limit == 0 {
		return nil, ErrRateLimitersDefaultLimitMissing
	}

	if cfg.Service.Sessions.WebSocketReadBufferSize <= 0 {
		return nil, ErrSessionsWebSocketReadBufferSizeMissing
	}
	if cfg.Service.Sessions.WebSocketWriteBufferSize <= 0 {
		return nil, ErrSessionsWebSocketWriteBufferSizeMissing
	}
	if cfg.Service.Sessions.MaxConnections <= 0 {
		return nil, ErrSessionsMaxConnectionsMissing
	}

	if cfg.SSH.Enabled && cfg.SSH.Binding == "" {
		return nil, ErrSSHBindingMissing
	}

	return &cfg, nil
}

func GenerateConfig(configFile string) (*Config, error) {
	cfg := Config{
		SkiffHome:       "data/skiff", // Relative path for easier default setup
		DefaultStrategy: string(eval.StrategyStrict),
		Logging: Logging{
			Level: "info",
		},
		Service: ServiceConfig{
			HttpBinding:    "127.0.0.1:7101",
			ClientDomain:   "localhost",
			MaxSourceBytes: 64 * 1024,
			ParseCacheTTL:  5 * time.Minute,
			RateLimiters: RateLimiters{
				Parse:    RateLimiterConfig{Limit: 100.0, Burst: 200},
				Eval:     RateLimiterConfig{Limit: 50.0, Burst: 100},
				Snippets: RateLimiterConfig{Limit: 25.0, Burst: 50},
				Sessions: RateLimiterConfig{Limit: 10.0, Burst: 20},
				Default:  RateLimiterConfig{Limit: 100.0, Burst: 200},
			},
			Sessions: SessionsConfig{
				WebSocketReadBufferSize:  4096,
				WebSocketWriteBufferSize: 4096,
				MaxConnections:           100,
			},
		},
		SSH: SSHConfig{
			Enabled: false,
			Binding: "127.0.0.1:7122",
		},
		Store: StoreConfig{
			SnippetTTL: 0, // Keep forever
		},
	}

	// The configFile argument is not used by this function to generate
	// the content; writing the file based on a command-line flag is
	// handled in the runtime.
	return &cfg, nil
}
