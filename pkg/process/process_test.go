package process_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/releng-tool/releng-tool-sub001/pkg/logger"
	"github.com/releng-tool/releng-tool-sub001/pkg/process"
)

func TestSafeGroupPanicRecovery(t *testing.T) {
	tests := []struct {
		name          string
		operations    []func() error
		errorContains string
	}{
		{
			name: "successful operations",
			operations: []func() error{
				func() error { return nil },
				func() error { return nil },
			},
		},
		{
			name: "one operation returns error",
			operations: []func() error{
				func() error { return nil },
				func() error { return errors.New("operation failed") },
			},
			errorContains: "operation failed",
		},
		{
			name: "one operation panics",
			operations: []func() error{
				func() error { return nil },
				func() error { panic("test panic") },
			},
			errorContains: "goroutine panic",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			g, _ := process.NewSafeGroup(context.Background(), logger.NewWithOutput(&buf, true))
			g.SetLimit(2)
			for _, op := range tt.operations {
				g.Go(op)
			}

			err := g.Wait()
			if tt.errorContains == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorContains)
		})
	}
}

func TestManagerSignalCancelsContext(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("interrupt signals cannot be sent to the own process on windows")
	}

	m := process.NewManager(logger.Discard())
	var order []int
	called := make(chan struct{})
	m.RegisterShutdownHandler(func() {
		order = append(order, 1)
		close(called)
	})
	m.RegisterShutdownHandler(func() { order = append(order, 2) })

	ctx := m.Start(context.Background())
	defer m.Stop()

	p, err := os.FindProcess(os.Getpid())
	require.NoError(t, err)
	require.NoError(t, p.Signal(os.Interrupt))

	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context was not cancelled")
	}
	<-called
	assert.True(t, m.Interrupted())
	assert.Equal(t, []int{2, 1}, order)
}

func TestManagerStopCancelsContext(t *testing.T) {
	m := process.NewManager(nil)
	ctx := m.Start(context.Background())
	m.Stop()

	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context was not cancelled")
	}
	assert.False(t, m.Interrupted())
	m.Stop()
}
