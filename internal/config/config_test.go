package config_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terminal-bench/blasttap/internal/config"
	"github.com/terminal-bench/blasttap/internal/pipeline"
	"github.com/terminal-bench/blasttap/internal/production"
	"github.com/terminal-bench/blasttap/internal/shift"
)

func from(m map[string]string) config.Lookup {
	return func(key string) string { return m[key] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadFrom(from(nil))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Empty(t, cfg.NATSURL)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Equal(t, shift.MustClock("07:00"), cfg.ShiftStart)
	assert.Equal(t, 60.0, cfg.ElapsedFloorMin)
	assert.Equal(t, 500, cfg.HistoryCapacity)
	assert.Equal(t, pipeline.BasisRaw, cfg.Basis)
	assert.Equal(t, production.TfNone, cfg.Tf)
	assert.Equal(t, pipeline.DefaultOptions(), cfg.Options())
	assert.Equal(t, 15*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 12*time.Hour, cfg.SessionIdleTTL)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := config.LoadFrom(from(map[string]string{
		"SHIFT_START":        "06:30",
		"ELAPSED_FLOOR_MIN":  "30",
		"HISTORY_CAPACITY":   "20",
		"THRESHOLD_WATCH":    "80",
		"THRESHOLD_EXCESS":   "120",
		"THRESHOLD_CRITICAL": "180",
		"BALANCE_BASIS":      "holding",
		"TF_FORMULA":         "blast-oxygen-pci",
		"ETCD_ENDPOINTS":     "etcd-0:2379, etcd-1:2379,",
		"DEBUG":              "true",
	}))
	require.NoError(t, err)

	opts := cfg.Options()
	assert.Equal(t, shift.MustClock("06:30"), opts.Shift.Boundary)
	assert.Equal(t, 30.0, opts.Shift.FloorMinutes)
	assert.Equal(t, 100, cfg.HistoryCapacity, "capacity is clamped")
	assert.Equal(t, 80.0, opts.Thresholds.Watch)
	assert.Equal(t, pipeline.BasisHolding, opts.Basis)
	assert.Equal(t, production.TfBlastOxygenPCI, opts.Tf)
	assert.Equal(t, []string{"etcd-0:2379", "etcd-1:2379"}, cfg.EtcdEndpoints)
	assert.True(t, cfg.Debug)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]map[string]string{
		"non-numeric floor":    {"ELAPSED_FLOOR_MIN": "an hour"},
		"floor beyond a day":   {"ELAPSED_FLOOR_MIN": "2000"},
		"malformed shift time": {"SHIFT_START": "7h"},
		"unknown basis":        {"BALANCE_BASIS": "net"},
		"unknown Tf formula":   {"TF_FORMULA": "magic"},
		"descending tiers":     {"THRESHOLD_WATCH": "300"},
		"bad duration":         {"CACHE_TTL": "soon"},
		"bad bool":             {"DEBUG": "yes please"},
	}
	for name, env := range cases {
		t.Run("should reject "+name, func(t *testing.T) {
			_, err := config.LoadFrom(from(env))
			assert.Error(t, err)
		})
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("THRESHOLD_CRITICAL", "250")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 250.0, cfg.Thresholds.Critical)
}

func TestOverlay(t *testing.T) {
	base := from(map[string]string{"THRESHOLD_WATCH": "100", "NATS_URL": "nats://env:4222"})
	get := config.Overlay(base, map[string]string{
		"THRESHOLD_WATCH": "90",
		"NATS_URL":        "nats://etcd:4222",
		"TF_FORMULA":      "",
	})

	t.Run("should prefer overrides for plant settings", func(t *testing.T) {
		assert.Equal(t, "90", get("THRESHOLD_WATCH"))
	})

	t.Run("should keep connection settings from the base", func(t *testing.T) {
		assert.Equal(t, "nats://env:4222", get("NATS_URL"))
	})

	t.Run("should ignore empty overrides", func(t *testing.T) {
		assert.Empty(t, get("TF_FORMULA"))
	})
}

func TestFetchOverrides(t *testing.T) {
	endpoints := os.Getenv("ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("ETCD_ENDPOINTS not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	overrides, err := config.FetchOverrides(ctx, []string{endpoints}, "/blasttap-test/")
	require.NoError(t, err)
	assert.NotNil(t, overrides)
}
