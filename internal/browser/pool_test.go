package browser

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fakeLauncher() LaunchFunc {
	return func() (*Handle, error) {
		return &Handle{}, nil
	}
}

func TestAcquireLaunchesLazily(t *testing.T) {
	launched := 0
	p := NewPoolWithLauncher(2, func() (*Handle, error) {
		launched++
		return &Handle{}, nil
	}, testLogger())
	defer p.CloseAll()

	assert.Zero(t, p.Total())

	h, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, launched)
	assert.Equal(t, 1, p.Total())

	p.Release(h)

	// A released handle is reused instead of launching a second browser.
	h2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, launched)
	assert.Same(t, h, h2)
	p.Release(h2)
}

func TestAcquireRespectsSizeBound(t *testing.T) {
	p := NewPoolWithLauncher(2, fakeLauncher(), testLogger())
	defer p.CloseAll()

	h1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	h2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, p.Total())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, ErrAcquireTimeout)

	p.Release(h1)
	p.Release(h2)
	assert.Equal(t, 2, p.Total())
}

func TestAcquireWaitsForRelease(t *testing.T) {
	p := NewPoolWithLauncher(1, fakeLauncher(), testLogger())
	defer p.CloseAll()

	h, err := p.Acquire(context.Background())
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		waited, err := p.Acquire(context.Background())
		assert.NoError(t, err)
		p.Release(waited)
	}()

	time.Sleep(10 * time.Millisecond)
	p.Release(h)
	wg.Wait()
}

func TestReleaseDropsUnhealthyHandle(t *testing.T) {
	p := NewPoolWithLauncher(1, fakeLauncher(), testLogger())
	defer p.CloseAll()

	h, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, p.Total())

	h.MarkUnhealthy()
	p.Release(h)
	assert.Zero(t, p.Total())

	// The slot is recreated lazily on the next acquire.
	h2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, h, h2)
	assert.Equal(t, 1, p.Total())
	p.Release(h2)
}

func TestLaunchFailureRollsBackAccounting(t *testing.T) {
	boom := errors.New("chromium exploded")
	calls := 0
	p := NewPoolWithLauncher(1, func() (*Handle, error) {
		calls++
		if calls == 1 {
			return nil, boom
		}
		return &Handle{}, nil
	}, testLogger())
	defer p.CloseAll()

	_, err := p.Acquire(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Zero(t, p.Total())

	h, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, p.Total())
	p.Release(h)
}

func TestCloseAll(t *testing.T) {
	p := NewPoolWithLauncher(2, fakeLauncher(), testLogger())

	h, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(h)

	p.CloseAll()
	p.CloseAll() // idempotent

	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestCloseAllWakesWaiters(t *testing.T) {
	p := NewPoolWithLauncher(1, fakeLauncher(), testLogger())

	h, err := p.Acquire(context.Background())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background())
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	p.CloseAll()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrPoolClosed)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by CloseAll")
	}

	p.Release(h)
}

func TestHealthCheck(t *testing.T) {
	p := NewPoolWithLauncher(2, fakeLauncher(), testLogger())
	defer p.CloseAll()

	view := p.HealthCheck()
	assert.False(t, view.Initialized)
	assert.True(t, view.Healthy)

	h, err := p.Acquire(context.Background())
	require.NoError(t, err)

	view = p.HealthCheck()
	assert.True(t, view.Initialized)
	assert.Equal(t, 1, view.TotalBrowsers)
	assert.Equal(t, 1, view.InUse)
	assert.Zero(t, view.Available)

	p.Release(h)
	view = p.HealthCheck()
	assert.Zero(t, view.InUse)
	assert.Equal(t, 1, view.Available)

	p.CloseAll()
	view = p.HealthCheck()
	assert.False(t, view.Healthy)
	assert.NotEmpty(t, view.Issues)
}

func TestHandleUseAccounting(t *testing.T) {
	p := NewPoolWithLauncher(1, fakeLauncher(), testLogger())
	defer p.CloseAll()

	h, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Zero(t, h.PagesServed())

	p.Release(h)
	assert.Equal(t, 1, h.PagesServed())
	assert.False(t, h.LastUsedAt().IsZero())
}
