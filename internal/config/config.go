package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/terminal-bench/blasttap/internal/balance"
	"github.com/terminal-bench/blasttap/internal/history"
	"github.com/terminal-bench/blasttap/internal/pipeline"
	"github.com/terminal-bench/blasttap/internal/production"
	"github.com/terminal-bench/blasttap/internal/shift"
)

// Config holds application configuration. Every external endpoint is
// optional; an empty value disables the matching sink.
type Config struct {
	Port      string
	JWTSecret string
	Debug     bool

	NATSURL     string
	DatabaseURL string
	RedisURL    string

	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioSecure    bool

	EtcdEndpoints []string
	EtcdPrefix    string

	ShiftStart      shift.Clock
	ElapsedFloorMin float64
	HistoryCapacity int
	Thresholds      balance.Thresholds
	Basis           pipeline.Basis
	Tf              production.TfFormula

	CacheTTL       time.Duration
	SinkTimeout    time.Duration
	SessionIdleTTL time.Duration
}

// Lookup returns the raw value of a key, or "" when unset.
type Lookup func(key string) string

// Load loads configuration from environment variables
func Load() (*Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom loads configuration from an arbitrary source.
func LoadFrom(get Lookup) (*Config, error) {
	p := parser{get: get}
	cfg := &Config{
		Port:      p.str("PORT", "8080"),
		JWTSecret: p.str("JWT_SECRET", ""),
		Debug:     p.boolean("DEBUG", false),

		NATSURL:     p.str("NATS_URL", ""),
		DatabaseURL: p.str("DATABASE_URL", ""),
		RedisURL:    p.str("REDIS_URL", ""),

		InfluxURL:    p.str("INFLUXDB_URL", ""),
		InfluxToken:  p.str("INFLUXDB_TOKEN", ""),
		InfluxOrg:    p.str("INFLUXDB_ORG", "blasttap"),
		InfluxBucket: p.str("INFLUXDB_BUCKET", "melt_balance"),

		MinioEndpoint:  p.str("MINIO_ENDPOINT", ""),
		MinioAccessKey: p.str("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: p.str("MINIO_SECRET_KEY", ""),
		MinioBucket:    p.str("MINIO_BUCKET", "blasttap"),
		MinioSecure:    p.boolean("MINIO_SECURE", false),

		EtcdEndpoints: p.list("ETCD_ENDPOINTS"),
		EtcdPrefix:    p.str("ETCD_PREFIX", "/blasttap/"),

		ShiftStart:      p.clock("SHIFT_START", shift.DefaultConfig().Boundary),
		ElapsedFloorMin: p.float("ELAPSED_FLOOR_MIN", shift.DefaultConfig().FloorMinutes),
		HistoryCapacity: history.ClampCapacity(p.integer("HISTORY_CAPACITY", history.DefaultCapacity)),
		Thresholds: balance.Thresholds{
			Watch:    p.float("THRESHOLD_WATCH", balance.DefaultThresholds().Watch),
			Excess:   p.float("THRESHOLD_EXCESS", balance.DefaultThresholds().Excess),
			Critical: p.float("THRESHOLD_CRITICAL", balance.DefaultThresholds().Critical),
		},

		CacheTTL:       p.duration("CACHE_TTL", 15*time.Minute),
		SinkTimeout:    p.duration("SINK_TIMEOUT", 5*time.Second),
		SessionIdleTTL: p.duration("SESSION_IDLE_TTL", 12*time.Hour),
	}

	if basis, err := pipeline.ParseBasis(p.get("BALANCE_BASIS")); err != nil {
		p.fail("BALANCE_BASIS", err)
	} else {
		cfg.Basis = basis
	}
	if tf, err := production.ParseTfFormula(p.get("TF_FORMULA")); err != nil {
		p.fail("TF_FORMULA", err)
	} else {
		cfg.Tf = tf
	}

	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if err := c.Thresholds.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.ElapsedFloorMin < 0 || c.ElapsedFloorMin > shift.MaxElapsedMinutes {
		return fmt.Errorf("invalid config: ELAPSED_FLOOR_MIN must be within [0, %d]", shift.MaxElapsedMinutes)
	}
	return nil
}

// Options maps the plant settings onto evaluation options.
func (c *Config) Options() pipeline.Options {
	return pipeline.Options{
		Shift:      shift.Config{Boundary: c.ShiftStart, FloorMinutes: c.ElapsedFloorMin},
		Thresholds: c.Thresholds,
		Basis:      c.Basis,
		Tf:         c.Tf,
	}
}

// parser reads typed values and keeps the first error.
type parser struct {
	get Lookup
	err error
}

func (p *parser) fail(key string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid config %s: %w", key, err)
	}
}

func (p *parser) str(key, def string) string {
	if v := p.get(key); v != "" {
		return v
	}
	return def
}

func (p *parser) boolean(key string, def bool) bool {
	v := p.get(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return b
}

func (p *parser) integer(key string, def int) int {
	v := p.get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return n
}

func (p *parser) float(key string, def float64) float64 {
	v := p.get(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return f
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := p.get(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return d
}

func (p *parser) clock(key string, def shift.Clock) shift.Clock {
	v := p.get(key)
	if v == "" {
		return def
	}
	c, err := shift.ParseClock(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return c
}

func (p *parser) list(key string) []string {
	v := p.get(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
