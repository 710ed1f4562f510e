package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func TestRegisterJob(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	require.NoError(t, svc.RegisterJob("sitecheck-run", "*/15 * * * *", func(ctx context.Context) error { return nil }))

	err := svc.RegisterJob("sitecheck-run", "*/5 * * * *", func(ctx context.Context) error { return nil })
	assert.Error(t, err)

	err = svc.RegisterJob("broken", "every quarter hour", func(ctx context.Context) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid schedule")
}

func TestTriggerNow(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	var runs atomic.Int32

	require.NoError(t, svc.RegisterJob("sitecheck-run", "@every 1h", func(ctx context.Context) error {
		if runs.Add(1) == 2 {
			return errors.New("2 failed, 0 timed out")
		}
		return nil
	}))

	require.NoError(t, svc.TriggerNow("sitecheck-run"))
	status, err := svc.GetJobStatus("sitecheck-run")
	require.NoError(t, err)
	assert.Equal(t, 1, status.Runs)
	assert.Empty(t, status.LastError)
	assert.NotNil(t, status.LastRun)
	assert.False(t, status.IsRunning)

	require.NoError(t, svc.TriggerNow("sitecheck-run"))
	status, err = svc.GetJobStatus("sitecheck-run")
	require.NoError(t, err)
	assert.Equal(t, 2, status.Runs)
	assert.Equal(t, "2 failed, 0 timed out", status.LastError)

	assert.Error(t, svc.TriggerNow("unknown"))
	_, err = svc.GetJobStatus("unknown")
	assert.Error(t, err)
}

func TestTriggerNow_RecoversPanics(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	require.NoError(t, svc.RegisterJob("panics", "@every 1h", func(ctx context.Context) error {
		panic("driver exploded")
	}))

	require.NoError(t, svc.TriggerNow("panics"))

	status, err := svc.GetJobStatus("panics")
	require.NoError(t, err)
	assert.Contains(t, status.LastError, "driver exploded")
}

func TestTriggerNow_SkipsWhileRunning(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	started := make(chan struct{})
	release := make(chan struct{})
	var runs atomic.Int32

	require.NoError(t, svc.RegisterJob("slow", "@every 1h", func(ctx context.Context) error {
		runs.Add(1)
		close(started)
		<-release
		return nil
	}))

	go func() { _ = svc.TriggerNow("slow") }()
	<-started

	// A second trigger while the first is in progress is skipped
	require.NoError(t, svc.TriggerNow("slow"))
	status, err := svc.GetJobStatus("slow")
	require.NoError(t, err)
	assert.True(t, status.IsRunning)

	close(release)
	assert.Eventually(t, func() bool {
		s, _ := svc.GetJobStatus("slow")
		return !s.IsRunning
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
}

func TestStartStop(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	cancelled := make(chan struct{})

	require.NoError(t, svc.RegisterJob("sitecheck-run", "@every 1h", func(ctx context.Context) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}))

	require.NoError(t, svc.Start())
	assert.True(t, svc.IsRunning())
	assert.Error(t, svc.Start())

	status, err := svc.GetJobStatus("sitecheck-run")
	require.NoError(t, err)
	require.NotNil(t, status.NextRun)
	assert.True(t, status.NextRun.After(time.Now()))

	go func() { _ = svc.TriggerNow("sitecheck-run") }()
	assert.Eventually(t, func() bool {
		s, _ := svc.GetJobStatus("sitecheck-run")
		return s.IsRunning
	}, time.Second, 10*time.Millisecond)

	// Stop cancels the running job and waits for it
	require.NoError(t, svc.Stop())
	select {
	case <-cancelled:
	default:
		t.Fatal("Expected running job to be cancelled before Stop returned")
	}
	assert.False(t, svc.IsRunning())
}
