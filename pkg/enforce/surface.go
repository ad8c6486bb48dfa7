package enforce

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Surface is the external enforcement boundary (firewall, decoy router,
// segmentation controller). Calls may block on OS or network work; the
// engine bounds them with a timeout and retries once.
type Surface interface {
	Apply(ctx context.Context, a Action) error
	Revert(ctx context.Context, a Action) error
}

// SimulatedSurface records intended effects without touching anything.
// Default when live enforcement is disabled. Revert of an unknown action is
// a no-op so sweeps stay idempotent.
type SimulatedSurface struct {
	mu      sync.Mutex
	applied map[string]ActionKind
}

// NewSimulatedSurface creates an empty simulator.
func NewSimulatedSurface() *SimulatedSurface {
	return &SimulatedSurface{applied: make(map[string]ActionKind)}
}

func (s *SimulatedSurface) Apply(ctx context.Context, a Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied[a.SourceID] = a.Kind
	return nil
}

func (s *SimulatedSurface) Revert(ctx context.Context, a Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.applied, a.SourceID)
	return nil
}

// Applied reports the currently simulated effect for a source.
func (s *SimulatedSurface) Applied(sourceID string) (ActionKind, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.applied[sourceID]
	return k, ok
}

// RedisSurface publishes enforcement state as TTL'd keys consumed by an
// external firewall agent. The key TTL mirrors the action expiry so a dead
// daemon cannot leave a source blocked forever.
type RedisSurface struct {
	client *redis.Client
	prefix string
}

// NewRedisSurface connects a surface to a redis instance.
func NewRedisSurface(client *redis.Client, prefix string) *RedisSurface {
	if prefix == "" {
		prefix = "swarmshield:enforce"
	}
	return &RedisSurface{client: client, prefix: prefix}
}

func (s *RedisSurface) key(a Action) string {
	return fmt.Sprintf("%s:%s", s.prefix, a.SourceID)
}

func (s *RedisSurface) Apply(ctx context.Context, a Action) error {
	ttl := time.Duration(0)
	if a.ExpiresAt != nil {
		ttl = time.Until(*a.ExpiresAt)
		if ttl <= 0 {
			ttl = time.Second
		}
	}
	if err := s.client.Set(ctx, s.key(a), string(a.Kind), ttl).Err(); err != nil {
		return fmt.Errorf("redis apply %s on %s: %w", a.Kind, a.SourceID, err)
	}
	return nil
}

func (s *RedisSurface) Revert(ctx context.Context, a Action) error {
	// Del of a missing key is a no-op, which keeps re-sweeps idempotent.
	if err := s.client.Del(ctx, s.key(a)).Err(); err != nil {
		return fmt.Errorf("redis revert %s on %s: %w", a.Kind, a.SourceID, err)
	}
	return nil
}
