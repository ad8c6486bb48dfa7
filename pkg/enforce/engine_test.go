package enforce

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swarmshield/pkg/detector"
	"swarmshield/pkg/evolver"
	"swarmshield/pkg/structlog"
)

func quietLogger() *structlog.Logger {
	return structlog.NewLogger("test", structlog.LevelFatal, io.Discard)
}

type clock struct{ at time.Time }

func (c *clock) now() time.Time { return c.at }

func newTestEngine(surface Surface) (*Engine, *clock) {
	c := &clock{at: time.Unix(1_700_000_000, 0)}
	e := NewEngine(surface, DefaultConfig(), quietLogger())
	e.SetClock(c.now)
	return e, c
}

func TestApplySetsExpiryByKind(t *testing.T) {
	surface := NewSimulatedSurface()
	e, c := newTestEngine(surface)
	ctx := context.Background()

	block, err := e.Apply(ctx, ApplyRequest{SourceID: "a", Kind: KindBlock, AttackType: detector.AttackDDoS, Confidence: 0.8})
	require.NoError(t, err)
	require.NotNil(t, block.ExpiresAt)
	assert.Equal(t, c.at.Add(300*time.Second), *block.ExpiresAt)

	rl, err := e.Apply(ctx, ApplyRequest{SourceID: "b", Kind: KindRateLimit, Confidence: 0.45})
	require.NoError(t, err)
	require.NotNil(t, rl.ExpiresAt)
	assert.Equal(t, c.at.Add(60*time.Second), *rl.ExpiresAt)

	mon, err := e.Apply(ctx, ApplyRequest{SourceID: "c", Kind: KindMonitor, Confidence: 0.2})
	require.NoError(t, err)
	assert.Nil(t, mon.ExpiresAt, "monitor never expires")

	// monitor never mutates the surface or enters the active table
	_, applied := surface.Applied("c")
	assert.False(t, applied)
	assert.Len(t, e.ActiveActions(), 2)
}

func TestSweepRevertsExpiredAndIsIdempotent(t *testing.T) {
	surface := NewSimulatedSurface()
	e, c := newTestEngine(surface)
	ctx := context.Background()

	_, err := e.Apply(ctx, ApplyRequest{SourceID: "a", Kind: KindBlock, AttackType: detector.AttackDDoS, Confidence: 0.9})
	require.NoError(t, err)

	// not expired yet
	assert.Equal(t, 0, e.Sweep(ctx))

	c.at = c.at.Add(301 * time.Second)
	assert.Equal(t, 1, e.Sweep(ctx))
	_, applied := surface.Applied("a")
	assert.False(t, applied, "surface effect must be gone after sweep")

	// second sweep over the same state is a no-op
	assert.Equal(t, 0, e.Sweep(ctx))
	assert.Empty(t, e.ActiveActions())
}

type failingSurface struct{ applyCalls int }

func (f *failingSurface) Apply(ctx context.Context, a Action) error {
	f.applyCalls++
	return errors.New("surface down")
}
func (f *failingSurface) Revert(ctx context.Context, a Action) error { return nil }

func TestApplyFailureKeepsActionActive(t *testing.T) {
	surface := &failingSurface{}
	cfg := DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	e := NewEngine(surface, cfg, quietLogger())
	c := &clock{at: time.Unix(1_700_000_000, 0)}
	e.SetClock(c.now)

	a, err := e.Apply(context.Background(), ApplyRequest{SourceID: "a", Kind: KindBlock, AttackType: detector.AttackDDoS, Confidence: 0.9})
	require.ErrorIs(t, err, ErrEnforcementFailed)
	assert.Equal(t, 2, surface.applyCalls, "exactly one retry")
	assert.False(t, a.Succeeded)

	// stays in the table with its original expiry for the sweeper
	active := e.ActiveActions()
	require.Len(t, active, 1)
	assert.Equal(t, c.at.Add(300*time.Second), *active[0].ExpiresAt)

	c.at = c.at.Add(301 * time.Second)
	assert.Equal(t, 1, e.Sweep(context.Background()))
}

func TestApplyRecordsOutcome(t *testing.T) {
	dir := t.TempDir()
	log := evolver.NewOutcomeLog(filepath.Join(dir, "outcomes.jsonl"))
	e, _ := newTestEngine(NewSimulatedSurface())
	e.AttachOutcomeLog(log)

	_, err := e.Apply(context.Background(), ApplyRequest{SourceID: "a", Kind: KindBlock, AttackType: detector.AttackDDoS, Confidence: 0.9})
	require.NoError(t, err)
	_, err = e.Apply(context.Background(), ApplyRequest{SourceID: "b", Kind: KindElevatedMonitor, Confidence: 0.3})
	require.NoError(t, err)

	recs, err := log.Load()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.True(t, recs[0].WasThreat)
	assert.Equal(t, "block", recs[0].ActionTaken)
	assert.False(t, recs[1].WasThreat)
}

func TestStoreRestoreResumesSweeping(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "actions.db")

	store, err := OpenActionStore(storePath)
	require.NoError(t, err)
	e1, c := newTestEngine(NewSimulatedSurface())
	require.NoError(t, e1.AttachStore(store))
	_, err = e1.Apply(context.Background(), ApplyRequest{SourceID: "a", Kind: KindQuarantine, AttackType: detector.AttackExfiltration, Confidence: 0.8})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// simulated restart
	store2, err := OpenActionStore(storePath)
	require.NoError(t, err)
	defer store2.Close()
	surface2 := NewSimulatedSurface()
	e2 := NewEngine(surface2, DefaultConfig(), quietLogger())
	e2.SetClock(c.now)
	require.NoError(t, e2.AttachStore(store2))

	active := e2.ActiveActions()
	require.Len(t, active, 1)
	assert.Equal(t, "a", active[0].SourceID)

	c.at = c.at.Add(400 * time.Second)
	assert.Equal(t, 1, e2.Sweep(context.Background()))
	assert.Empty(t, e2.ActiveActions())
}

type slowSurface struct {
	inner *SimulatedSurface
	delay time.Duration
}

func (s *slowSurface) Apply(ctx context.Context, a Action) error {
	time.Sleep(s.delay)
	return s.inner.Apply(ctx, a)
}

func (s *slowSurface) Revert(ctx context.Context, a Action) error {
	time.Sleep(s.delay)
	return s.inner.Revert(ctx, a)
}

func TestTableReadsDoNotWaitOnSurfaceIO(t *testing.T) {
	surface := &slowSurface{inner: NewSimulatedSurface(), delay: 400 * time.Millisecond}
	e, _ := newTestEngine(surface)

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Apply(context.Background(), ApplyRequest{SourceID: "a", Kind: KindBlock, AttackType: detector.AttackDDoS, Confidence: 0.9})
	}()
	time.Sleep(50 * time.Millisecond) // let the goroutine reach the surface call

	begin := time.Now()
	e.ActiveKind("a")
	e.HasActive("a")
	e.ActiveActions()
	elapsed := time.Since(begin)
	assert.Less(t, elapsed, 100*time.Millisecond, "table reads waited on in-flight surface I/O")
	<-done

	kind, applied := surface.inner.Applied("a")
	require.True(t, applied)
	assert.Equal(t, KindBlock, kind)
}

func TestSweepSkipsSourceWithApplyInFlight(t *testing.T) {
	surface := &slowSurface{inner: NewSimulatedSurface(), delay: 300 * time.Millisecond}
	e, c := newTestEngine(surface)
	ctx := context.Background()

	_, err := e.Apply(ctx, ApplyRequest{SourceID: "a", Kind: KindRateLimit, Confidence: 0.45})
	require.NoError(t, err)
	c.at = c.at.Add(61 * time.Second)

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Apply(ctx, ApplyRequest{SourceID: "a", Kind: KindBlock, AttackType: detector.AttackDDoS, Confidence: 0.9})
	}()
	time.Sleep(50 * time.Millisecond)

	// the expired rate limit is not reverted under the superseding apply
	assert.Equal(t, 0, e.Sweep(ctx))
	<-done

	active := e.ActiveActions()
	require.Len(t, active, 1)
	assert.Equal(t, KindBlock, active[0].Kind)
}

func TestNewActionSupersedesOld(t *testing.T) {
	e, c := newTestEngine(NewSimulatedSurface())
	ctx := context.Background()

	_, err := e.Apply(ctx, ApplyRequest{SourceID: "a", Kind: KindRateLimit, Confidence: 0.45})
	require.NoError(t, err)
	c.at = c.at.Add(10 * time.Second)
	_, err = e.Apply(ctx, ApplyRequest{SourceID: "a", Kind: KindBlock, AttackType: detector.AttackDDoS, Confidence: 0.9})
	require.NoError(t, err)

	active := e.ActiveActions()
	require.Len(t, active, 1)
	assert.Equal(t, KindBlock, active[0].Kind)
}
