package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	// DefaultAppKey and DefaultAppSecret are placeholders; real ones come from the environment.
	DefaultAppKey    = "omie-demo-app-key"
	DefaultAppSecret = "omie-demo-app-secret"
)

type Config struct {
	Omie      OmieConfig
	CNPJ      CNPJConfig
	Server    ServerConfig
	LogSink   LogSinkConfig
	Telemetry TelemetryConfig
}

type OmieConfig struct {
	AppKey    string `envconfig:"OMIE_API_KEY" default:"omie-demo-app-key"`
	AppSecret string `envconfig:"OMIE_API_SECRET" default:"omie-demo-app-secret"`
	BaseURL   string `envconfig:"OMIE_BASE_URL" default:"https://app.omie.com.br/api/v1"`
	// Retries only applies to rate limit and gateway responses.
	Retries    int          `envconfig:"OMIE_RETRIES" default:"2"`
	HTTPClient *http.Client `ignored:"true"`
}

// UsingDefaults reports whether the placeholder credentials are in use.
func (c OmieConfig) UsingDefaults() bool {
	return c.AppKey == DefaultAppKey || c.AppSecret == DefaultAppSecret
}

type CNPJConfig struct {
	BaseURL    string       `envconfig:"CNPJ_BASE_URL" default:"https://brasilapi.com.br/api/cnpj/v1"`
	HTTPClient *http.Client `ignored:"true"`
}

type ServerConfig struct {
	Port        string `envconfig:"PORT" default:"3000"`
	StaticDir   string `envconfig:"STATIC_DIR" default:"public"`
	TimeZone    string `envconfig:"TZ_LOCATION" default:"America/Sao_Paulo"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	ServiceName string `envconfig:"SERVICE_NAME" default:"omiebridge"`
}

// Addr is the listen address derived from Port.
func (s ServerConfig) Addr() string {
	if strings.Contains(s.Port, ":") {
		return s.Port
	}
	return ":" + s.Port
}

// Location resolves TimeZone, the zone the stock snapshot date is computed in.
func (s ServerConfig) Location() (*time.Location, error) {
	if strings.TrimSpace(s.TimeZone) == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(s.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", s.TimeZone, err)
	}
	return loc, nil
}

// Level parses LogLevel, falling back to info.
func (s ServerConfig) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

type LogSinkConfig struct {
	AccountName string        `envconfig:"LOGSINK_ACCOUNT_NAME"`
	AccountKey  string        `envconfig:"LOGSINK_ACCOUNT_KEY"`
	Container   string        `envconfig:"LOGSINK_CONTAINER"`
	BlobName    string        `envconfig:"LOGSINK_BLOB"`
	FlushEvery  time.Duration `envconfig:"LOGSINK_FLUSH_EVERY" default:"2s"`
	// ReadToken guards GET /api/logs; the endpoint is off without it.
	ReadToken string `envconfig:"LOGSINK_READ_TOKEN"`
}

func (l LogSinkConfig) Enabled() bool {
	return l.AccountName != "" && l.AccountKey != "" && l.Container != ""
}

type TelemetryConfig struct {
	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

func (t TelemetryConfig) Enabled() bool {
	return t.OTLPEndpoint != ""
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	// each section is processed without a prefix so the variable names stay flat
	sections := []any{&cfg.Omie, &cfg.CNPJ, &cfg.Server, &cfg.LogSink, &cfg.Telemetry}
	for _, section := range sections {
		if err := envconfig.Process("", section); err != nil {
			return nil, fmt.Errorf("process environment: %w", err)
		}
	}
	// set-but-empty variables count as unset
	if strings.TrimSpace(cfg.Omie.AppKey) == "" {
		cfg.Omie.AppKey = DefaultAppKey
	}
	if strings.TrimSpace(cfg.Omie.AppSecret) == "" {
		cfg.Omie.AppSecret = DefaultAppSecret
	}
	if strings.TrimSpace(cfg.Server.Port) == "" {
		cfg.Server.Port = "3000"
	}
	if _, err := cfg.Server.Location(); err != nil {
		return nil, err
	}
	return cfg, nil
}
