package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLocker struct {
	mu       sync.Mutex
	grant    bool
	err      error
	acquired []string
	released []string
}

func (f *fakeLocker) AcquireLock(_ context.Context, key, value string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.grant {
		f.acquired = append(f.acquired, key)
	}
	return f.grant, nil
}

func (f *fakeLocker) ReleaseLock(_ context.Context, key, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, key)
	return nil
}

func TestPublishRefusedWhileLockHeld(t *testing.T) {
	locks := &fakeLocker{grant: false}
	svc := NewWorkflowService(nil, nil, nil, locks)

	_, _, err := svc.Publish(context.Background(), "wf", false)
	require.ErrorIs(t, err, ErrPublishInProgress)
	assert.Empty(t, locks.released)
}

func TestPublishSurfacesLockerErrors(t *testing.T) {
	locks := &fakeLocker{err: errors.New("redis down")}
	svc := NewWorkflowService(nil, nil, nil, locks)

	_, _, err := svc.Publish(context.Background(), "wf", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish lock")
}
