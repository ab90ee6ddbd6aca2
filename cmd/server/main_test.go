package main

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatehouse/internal/platform/config"
)

type countingPurger struct{ calls atomic.Int32 }

func (p *countingPurger) PurgeExpired(context.Context) (int64, error) {
	p.calls.Add(1)
	return 1, nil
}

func TestPurgeRevocationsRunsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &countingPurger{}
	done := make(chan struct{})
	go func() {
		purgeRevocations(ctx, p, 5*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
		close(done)
	}()

	assert.Eventually(t, func() bool { return p.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("purge loop did not stop")
	}
}

func TestOpenPhotoStorageFilesystem(t *testing.T) {
	storage, files, err := openPhotoStorage(context.Background(), config.Photos{
		Backend:      "fs",
		Dir:          t.TempDir(),
		PublicPrefix: "uploads/personal",
	})
	require.NoError(t, err)
	require.NotNil(t, files)
	assert.Same(t, files, storage)
	assert.Equal(t, "/uploads/personal", files.PublicPrefix())
}

func TestBuildAppInMemory(t *testing.T) {
	cfg := config.Default()
	cfg.Photos.Dir = t.TempDir()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := buildApp(context.Background(), cfg, &infra{}, log)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	assert.NotNil(t, a.router)
	assert.Nil(t, a.purge)
}
