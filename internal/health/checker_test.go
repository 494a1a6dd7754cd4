package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockChecker struct {
	name  string
	err   error
	delay time.Duration
}

func (m *mockChecker) Name() string {
	return m.name
}

func (m *mockChecker) Check(ctx context.Context) error {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.err
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestManagerRunChecks(t *testing.T) {
	manager := NewManager(testLogger())
	manager.Register(&mockChecker{name: "ok"})
	manager.Register(&mockChecker{name: "down", err: errors.New("relay unreachable")})
	manager.Register(&mockChecker{name: "degraded", err: fmt.Errorf("%w: slow", ErrDegraded)})

	results := manager.RunChecks(context.Background())
	require.Len(t, results, 3)

	assert.Equal(t, StatusOK, results["ok"].Status)
	assert.Empty(t, results["ok"].Message)
	assert.Equal(t, StatusDown, results["down"].Status)
	assert.Contains(t, results["down"].Message, "relay unreachable")
	assert.Equal(t, StatusDegraded, results["degraded"].Status)
	assert.False(t, results["ok"].LastChecked.IsZero())
}

func TestManagerTimeout(t *testing.T) {
	manager := NewManager(testLogger())
	manager.timeout = 10 * time.Millisecond
	manager.Register(&mockChecker{name: "slow", delay: time.Second})

	results := manager.RunChecks(context.Background())
	assert.Equal(t, StatusDown, results["slow"].Status)
	assert.Equal(t, "Health check timed out", results["slow"].Message)
}

func TestManagerOverallStatus(t *testing.T) {
	tests := []struct {
		name     string
		errs     []error
		expected Status
	}{
		{"no checks", nil, StatusDown},
		{"all ok", []error{nil, nil}, StatusOK},
		{"one degraded", []error{nil, ErrDegraded}, StatusDegraded},
		{"down wins", []error{ErrDegraded, errors.New("down")}, StatusDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := NewManager(testLogger())
			for i, err := range tt.errs {
				manager.Register(&mockChecker{name: fmt.Sprintf("c%d", i), err: err})
			}
			manager.RunChecks(context.Background())
			assert.Equal(t, tt.expected, manager.GetOverallStatus())
		})
	}
}

func TestManagerGetResultsReturnsCopies(t *testing.T) {
	manager := NewManager(testLogger())
	manager.Register(&mockChecker{name: "test"})
	manager.RunChecks(context.Background())

	results := manager.GetResults()
	results["test"].Status = StatusDown

	assert.Equal(t, StatusOK, manager.GetResults()["test"].Status)
}

func TestStartPeriodicChecks(t *testing.T) {
	manager := NewManager(testLogger())
	manager.Register(&mockChecker{name: "test"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		manager.StartPeriodicChecks(ctx, 10*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return len(manager.GetResults()) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("periodic checks did not stop")
	}
}
