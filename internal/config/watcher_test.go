package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTableWatcher_ReloadsDebounced(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rates.yaml")
	other := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	w, err := NewTableWatcher(50*time.Millisecond, zap.NewNop())
	require.NoError(t, err)

	var calls atomic.Int32
	reloaded := make(chan string, 10)
	require.NoError(t, w.Register(path, func(p string) error {
		calls.Add(1)
		reloaded <- p
		return nil
	}))
	require.NoError(t, w.Register("", nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))
	}
	require.NoError(t, os.WriteFile(other, []byte("ignored"), 0o644))

	select {
	case p := <-reloaded:
		assert.Equal(t, path, p)
	case <-time.After(3 * time.Second):
		t.Fatal("reload not triggered")
	}

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "burst of writes is one reload")
}

func TestTableWatcher_FailedReloadKeepsRunning(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chart.yaml")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	w, err := NewTableWatcher(20*time.Millisecond, zap.NewNop())
	require.NoError(t, err)

	attempts := make(chan struct{}, 10)
	require.NoError(t, w.Register(path, func(string) error {
		attempts <- struct{}{}
		return errors.New("broken table")
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	for i := 0; i < 2; i++ {
		require.NoError(t, os.WriteFile(path, []byte("broken"), 0o644))
		select {
		case <-attempts:
		case <-time.After(3 * time.Second):
			t.Fatalf("reload %d not triggered", i+1)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
