// Package cache keeps the latest evaluation of each session close at hand:
// an in-process L1 in front of an optional shared Redis L2.
//
// Writes carry the session's outcome sequence number and never replace a
// newer one, so sinks that finish out of order cannot roll the cache back.
// Evict leaves a fence at the reset's number for the same reason.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"github.com/terminal-bench/blasttap/internal/pipeline"
	"github.com/terminal-bench/blasttap/internal/session"
)

const keyPrefix = "blasttap:latest:"

// DefaultTTL matches a typical tapping cycle.
const DefaultTTL = 15 * time.Minute

// setIfNewer stores seq and result unless the key already holds an equal or
// higher seq. An empty result marks an evicted session.
var setIfNewer = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], 'seq') or '0')
if cur >= tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'seq', ARGV[1], 'result', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

type entry struct {
	seq    uint64
	result *pipeline.Result
}

// Latest caches the newest result per session.
type Latest struct {
	mu     sync.Mutex
	local  *gocache.Cache
	remote *redis.Client
	ttl    time.Duration
}

// New creates a cache. remote may be nil for a single-instance deployment.
func New(remote *redis.Client, ttl time.Duration) *Latest {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Latest{
		local:  gocache.New(ttl, 2*ttl),
		remote: remote,
		ttl:    ttl,
	}
}

// NewRedisClient accepts either a redis:// URL or a bare host:port.
func NewRedisClient(url string) (*redis.Client, error) {
	if !strings.Contains(url, "://") {
		return redis.NewClient(&redis.Options{Addr: url}), nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Name identifies the cache as a sink.
func (c *Latest) Name() string {
	return "cache"
}

// Handle stores the outcome's result.
func (c *Latest) Handle(ctx context.Context, out session.Outcome) error {
	return c.Set(ctx, out.SessionID.String(), out.Seq, out.Result)
}

// Set stores res under id in both tiers unless a result or fence with an
// equal or higher seq is already there.
func (c *Latest) Set(ctx context.Context, id string, seq uint64, res pipeline.Result) error {
	if !c.storeLocal(id, entry{seq: seq, result: &res}) {
		return nil
	}
	if c.remote == nil {
		return nil
	}

	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := c.storeRemote(ctx, id, seq, string(payload)); err != nil {
		return fmt.Errorf("failed to cache result: %w", err)
	}
	return nil
}

// Evict forgets id and fences off every write numbered seq or lower.
func (c *Latest) Evict(ctx context.Context, id string, seq uint64) error {
	c.storeLocal(id, entry{seq: seq})
	if c.remote == nil {
		return nil
	}
	if err := c.storeRemote(ctx, id, seq, ""); err != nil {
		return fmt.Errorf("failed to evict cache: %w", err)
	}
	return nil
}

// Get looks in L1 then L2. A miss is (zero, false, nil).
func (c *Latest) Get(ctx context.Context, id string) (pipeline.Result, bool, error) {
	if v, ok := c.local.Get(id); ok {
		e := v.(entry)
		if e.result == nil {
			return pipeline.Result{}, false, nil
		}
		return *e.result, true, nil
	}
	if c.remote == nil {
		return pipeline.Result{}, false, nil
	}

	vals, err := c.remote.HMGet(ctx, keyPrefix+id, "seq", "result").Result()
	if err != nil {
		return pipeline.Result{}, false, fmt.Errorf("failed to read cache: %w", err)
	}
	rawSeq, _ := vals[0].(string)
	payload, _ := vals[1].(string)
	if payload == "" {
		return pipeline.Result{}, false, nil
	}
	seq, err := strconv.ParseUint(rawSeq, 10, 64)
	if err != nil {
		return pipeline.Result{}, false, fmt.Errorf("failed to decode cached seq: %w", err)
	}

	var res pipeline.Result
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		return pipeline.Result{}, false, fmt.Errorf("failed to decode cached result: %w", err)
	}
	c.storeLocal(id, entry{seq: seq, result: &res})
	return res, true, nil
}

func (c *Latest) storeLocal(id string, e entry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.local.Get(id); ok && v.(entry).seq >= e.seq {
		return false
	}
	c.local.Set(id, e, c.ttl)
	return true
}

func (c *Latest) storeRemote(ctx context.Context, id string, seq uint64, payload string) error {
	err := setIfNewer.Run(ctx, c.remote, []string{keyPrefix + id}, seq, payload, c.ttl.Milliseconds()).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}
