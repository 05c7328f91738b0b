package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"equity_valuation/pkg/core/peer"
	"equity_valuation/pkg/core/resolve"
	"equity_valuation/pkg/core/utils"
	"equity_valuation/pkg/core/valuation"
	"equity_valuation/pkg/logger"
)

// Data sources
const (
	SourceFile  = "file"
	SourceEODHD = "eodhd"
)

// Config holds application configuration
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
	Valuation ValuationConfig `yaml:"valuation"`
	Data      DataConfig      `yaml:"data"`
	EODHD     EODHDConfig     `yaml:"eodhd"`
	Cache     CacheConfig     `yaml:"cache"`
	Gemini    GeminiConfig    `yaml:"gemini"`
	Format    string          `yaml:"format" validate:"oneof=markdown html json"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn warning error off disabled"`
	Pretty bool   `yaml:"pretty"`
}

type ServerConfig struct {
	Port        int      `yaml:"port" validate:"gte=1,lte=65535"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// ValuationConfig carries the engine parameters. DCF params are checked by DCFParams.Validate
// rather than tags so the error names the offending parameter the same way a request override does.
type ValuationConfig struct {
	DCF               valuation.DCFParams        `yaml:"dcf"`
	Multiples         valuation.DefaultMultiples `yaml:"multiples"`
	UnitShareFallback bool                       `yaml:"unit_share_fallback"`
	PeerConcurrency   int                        `yaml:"peer_concurrency" validate:"gte=1,lte=64"`
	PeerTimeout       time.Duration              `yaml:"peer_timeout" validate:"gte=0"`
	FetchTimeout      time.Duration              `yaml:"fetch_timeout" validate:"gte=0"`
}

type DataConfig struct {
	Source string `yaml:"source" validate:"oneof=file eodhd"`
	Dir    string `yaml:"dir"`
}

type EODHDConfig struct {
	APIKey      string `yaml:"api_key"`
	BaseURL     string `yaml:"base_url" validate:"omitempty,url"`
	RateLimit   int    `yaml:"rate_limit" validate:"gt=0"`
	HistoryDays int    `yaml:"history_days" validate:"gte=1"`
	Exchange    string `yaml:"exchange" validate:"required"`
}

// CacheConfig selects the dataset cache. With DatabaseURL set snapshots live in Postgres,
// otherwise in msgpack files under Dir.
type CacheConfig struct {
	Enabled     bool          `yaml:"enabled"`
	DatabaseURL string        `yaml:"database_url"`
	Dir         string        `yaml:"dir"`
	TTL         time.Duration `yaml:"ttl" validate:"gte=0"`
}

type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// Default returns the built-in configuration.
func Default() *Config {
	vc := valuation.DefaultConfig()
	return &Config{
		Log:    LogConfig{Level: "info"},
		Server: ServerConfig{Port: 8080, CORSOrigins: []string{"*"}},
		Valuation: ValuationConfig{
			DCF:             vc.DCF,
			Multiples:       vc.Multiples,
			PeerConcurrency: vc.Peers.Concurrency,
			PeerTimeout:     vc.Peers.Timeout,
			FetchTimeout:    vc.FetchTimeout,
		},
		Data: DataConfig{Source: SourceFile, Dir: "data"},
		EODHD: EODHDConfig{
			RateLimit:   10,
			HistoryDays: 30,
			Exchange:    "US",
		},
		Cache:  CacheConfig{Dir: ".cache/datasets", TTL: 12 * time.Hour},
		Gemini: GeminiConfig{Model: "gemini-2.5-flash"},
		Format: "markdown",
	}
}

// Load builds the configuration from defaults, then the optional YAML file at path, then the
// environment (a .env file in the working directory is loaded first if present).
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Pretty = getEnvAsBool("LOG_PRETTY", c.Log.Pretty)
	c.Server.Port = getEnvAsInt("PORT", c.Server.Port)

	v := &c.Valuation
	v.DCF.GrowthRate = getEnvAsFloat("DCF_GROWTH_RATE", v.DCF.GrowthRate)
	v.DCF.DiscountRate = getEnvAsFloat("DCF_DISCOUNT_RATE", v.DCF.DiscountRate)
	v.DCF.TerminalGrowthRate = getEnvAsFloat("DCF_TERMINAL_GROWTH_RATE", v.DCF.TerminalGrowthRate)
	v.DCF.ProjectionYears = getEnvAsInt("DCF_PROJECTION_YEARS", v.DCF.ProjectionYears)
	v.Multiples.PE = getEnvAsFloat("DEFAULT_PE", v.Multiples.PE)
	v.Multiples.PBV = getEnvAsFloat("DEFAULT_PBV", v.Multiples.PBV)
	v.Multiples.EVEBITDA = getEnvAsFloat("DEFAULT_EV_EBITDA", v.Multiples.EVEBITDA)
	v.UnitShareFallback = getEnvAsBool("UNIT_SHARE_FALLBACK", v.UnitShareFallback)
	v.PeerConcurrency = getEnvAsInt("PEER_CONCURRENCY", v.PeerConcurrency)
	v.PeerTimeout = getEnvAsDuration("PEER_TIMEOUT", v.PeerTimeout)
	v.FetchTimeout = getEnvAsDuration("FETCH_TIMEOUT", v.FetchTimeout)

	c.Data.Source = getEnv("DATA_SOURCE", c.Data.Source)
	c.Data.Dir = getEnv("DATA_DIR", c.Data.Dir)

	c.EODHD.APIKey = getEnv("EODHD_API_KEY", c.EODHD.APIKey)
	c.EODHD.BaseURL = getEnv("EODHD_BASE_URL", c.EODHD.BaseURL)
	c.EODHD.RateLimit = getEnvAsInt("EODHD_RATE_LIMIT", c.EODHD.RateLimit)
	c.EODHD.HistoryDays = getEnvAsInt("EODHD_HISTORY_DAYS", c.EODHD.HistoryDays)
	c.EODHD.Exchange = getEnv("EODHD_EXCHANGE", c.EODHD.Exchange)

	c.Cache.Enabled = getEnvAsBool("CACHE_ENABLED", c.Cache.Enabled)
	c.Cache.DatabaseURL = getEnv("DATABASE_URL", c.Cache.DatabaseURL)
	c.Cache.Dir = getEnv("CACHE_DIR", c.Cache.Dir)
	c.Cache.TTL = getEnvAsDuration("CACHE_TTL", c.Cache.TTL)

	c.Gemini.APIKey = getEnv("GEMINI_API_KEY", c.Gemini.APIKey)
	c.Gemini.Model = getEnv("GEMINI_MODEL", c.Gemini.Model)
	c.Format = getEnv("OUTPUT_FORMAT", c.Format)
}

// Validate checks field constraints and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := utils.Validator().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Valuation.DCF.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Data.Source == SourceFile && c.Data.Dir == "" {
		return errors.New("invalid config: DATA_DIR is required for the file source")
	}
	if c.Data.Source == SourceEODHD && c.EODHD.APIKey == "" {
		return errors.New("invalid config: EODHD_API_KEY is required for the eodhd source")
	}
	return nil
}

// Engine returns the valuation engine configuration.
func (c *Config) Engine() valuation.Config {
	return valuation.Config{
		DCF:       c.Valuation.DCF,
		Multiples: c.Valuation.Multiples,
		Resolve:   resolve.Options{UnitShareFallback: c.Valuation.UnitShareFallback},
		Peers: peer.Options{
			Concurrency: c.Valuation.PeerConcurrency,
			Timeout:     c.Valuation.PeerTimeout,
		},
		FetchTimeout: c.Valuation.FetchTimeout,
	}
}

// Logger returns the logger configuration.
func (c *Config) Logger() logger.Config {
	return logger.Config{Level: c.Log.Level, Pretty: c.Log.Pretty}
}

// NarrativeEnabled reports whether a Gemini key is configured.
func (c *Config) NarrativeEnabled() bool {
	return c.Gemini.APIKey != ""
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
