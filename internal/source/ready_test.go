package source

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastReady() ReadyConfig {
	return ReadyConfig{Timeout: time.Second, MaxAttempts: 4, BackoffBase: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestWaitReady_SucceedsAfterRetries(t *testing.T) {
	var calls int32
	err := WaitReady(context.Background(), fastReady(), func(context.Context) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestWaitReady_GivesUp(t *testing.T) {
	var calls int32
	err := WaitReady(context.Background(), fastReady(), func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("connection refused")
	})
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
}

func TestStartReady_Timeout(t *testing.T) {
	cfg := ReadyConfig{Timeout: 20 * time.Millisecond, MaxAttempts: 100, BackoffBase: 50 * time.Millisecond}
	r := StartReady(context.Background(), cfg, func(context.Context) error {
		return errors.New("down")
	})

	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("readiness wait did not honour its timeout")
	}
	assert.ErrorIs(t, r.Err(), ErrNotReady)
}

func TestStartReady_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := ReadyConfig{Timeout: time.Minute, MaxAttempts: 100, BackoffBase: time.Second}
	r := StartReady(ctx, cfg, func(context.Context) error { return errors.New("down") })
	cancel()
	assert.ErrorIs(t, r.Wait(context.Background()), ErrNotReady)
}
