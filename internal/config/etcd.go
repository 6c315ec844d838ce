package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// Overridable lists the plant settings that may be set centrally in etcd.
// Connection settings always come from the environment.
var Overridable = []string{
	"SHIFT_START",
	"ELAPSED_FLOOR_MIN",
	"HISTORY_CAPACITY",
	"THRESHOLD_WATCH",
	"THRESHOLD_EXCESS",
	"THRESHOLD_CRITICAL",
	"BALANCE_BASIS",
	"TF_FORMULA",
}

// Overlay returns a lookup that prefers overrides for Overridable keys
// and falls back to base.
func Overlay(base Lookup, overrides map[string]string) Lookup {
	allowed := make(map[string]bool, len(Overridable))
	for _, k := range Overridable {
		allowed[k] = true
	}
	return func(key string) string {
		if allowed[key] {
			if v, ok := overrides[key]; ok && v != "" {
				return v
			}
		}
		return base(key)
	}
}

// FetchOverrides reads every key under prefix. Keys are returned without the
// prefix and upper-cased, so "/blasttap/threshold_watch" becomes
// "THRESHOLD_WATCH".
func FetchOverrides(ctx context.Context, endpoints []string, prefix string) (map[string]string, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	defer cli.Close()

	resp, err := cli.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to read etcd overrides: %w", err)
	}

	out := make(map[string]string, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		key := strings.ToUpper(strings.TrimPrefix(string(kv.Key), prefix))
		out[key] = strings.TrimSpace(string(kv.Value))
	}
	return out, nil
}

// LoadWithEtcd loads from the environment, then reloads with the etcd
// overrides on top when ETCD_ENDPOINTS is set.
func LoadWithEtcd(ctx context.Context) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	if len(cfg.EtcdEndpoints) == 0 {
		return cfg, nil
	}

	overrides, err := FetchOverrides(ctx, cfg.EtcdEndpoints, cfg.EtcdPrefix)
	if err != nil {
		return nil, err
	}
	return LoadFrom(Overlay(os.Getenv, overrides))
}
