package lockout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "gatehouse/pkg/domain-errors"
	"gatehouse/pkg/platform/clock"
)

func newTestService(t *testing.T) (*Service, *clock.Manual) {
	t.Helper()
	c := clock.NewManual(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	svc, err := New(NewInMemoryStore(c.Now), WithConfig(Config{
		AttemptsPerWindow: 3,
		Window:            10 * time.Minute,
		LockDuration:      5 * time.Minute,
	}))
	require.NoError(t, err)
	return svc, c
}

func TestLocksAfterRepeatedFailures(t *testing.T) {
	ctx := context.Background()
	svc, c := newTestService(t)

	for range 2 {
		svc.RecordFailure(ctx, "ana@site.co", "10.0.0.1")
	}
	require.NoError(t, svc.Check(ctx, "ana@site.co", "10.0.0.1"))

	svc.RecordFailure(ctx, "ana@site.co", "10.0.0.1")
	err := svc.Check(ctx, "ana@site.co", "10.0.0.1")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTooManyRequests))
	assert.Contains(t, err.Error(), "5 minute")

	assert.NoError(t, svc.Check(ctx, "ana@site.co", "10.0.0.2"), "other addresses are unaffected")
	assert.NoError(t, svc.Check(ctx, "luis@site.co", "10.0.0.1"), "other emails are unaffected")

	c.Advance(5 * time.Minute)
	assert.NoError(t, svc.Check(ctx, "ana@site.co", "10.0.0.1"))
}

func TestFailuresOutsideWindowAreForgotten(t *testing.T) {
	ctx := context.Background()
	svc, c := newTestService(t)

	svc.RecordFailure(ctx, "ana@site.co", "10.0.0.1")
	svc.RecordFailure(ctx, "ana@site.co", "10.0.0.1")
	c.Advance(10 * time.Minute)
	svc.RecordFailure(ctx, "ana@site.co", "10.0.0.1")

	assert.NoError(t, svc.Check(ctx, "ana@site.co", "10.0.0.1"))
}

func TestClearResetsCounter(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	svc.RecordFailure(ctx, "ana@site.co", "10.0.0.1")
	svc.RecordFailure(ctx, "ana@site.co", "10.0.0.1")
	svc.Clear(ctx, "ana@site.co", "10.0.0.1")
	svc.RecordFailure(ctx, "ana@site.co", "10.0.0.1")

	assert.NoError(t, svc.Check(ctx, "ana@site.co", "10.0.0.1"))
}

type brokenStore struct{}

func (brokenStore) Increment(context.Context, string, time.Duration) (int, error) {
	return 0, errors.New("down")
}
func (brokenStore) Lock(context.Context, string, time.Duration) error { return errors.New("down") }
func (brokenStore) LockedFor(context.Context, string) (time.Duration, error) {
	return 0, errors.New("down")
}
func (brokenStore) Clear(context.Context, string) error { return errors.New("down") }

func TestStoreFailuresDoNotBlockLogin(t *testing.T) {
	ctx := context.Background()
	svc, err := New(brokenStore{})
	require.NoError(t, err)

	svc.RecordFailure(ctx, "ana@site.co", "10.0.0.1")
	svc.Clear(ctx, "ana@site.co", "10.0.0.1")
	assert.NoError(t, svc.Check(ctx, "ana@site.co", "10.0.0.1"))
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(NewInMemoryStore(nil), WithConfig(Config{AttemptsPerWindow: 0, Window: time.Minute, LockDuration: time.Minute}))
	assert.Error(t, err)
}

func TestKeyEscapesSeparator(t *testing.T) {
	assert.Equal(t, "a@b.co:10.0.0.1", Key("a@b.co", "10.0.0.1"))
	assert.Equal(t, "a@b.co:__1", Key("a@b.co", "::1"))
	assert.NotEqual(t, Key("a:b", "c"), Key("a", "b:c"))
}
