package watch_test

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gw31415/rsplug.nvim/internal/watch"
)

func TestRunInvokesCallbackOnTargetFileChange(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "plugins.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("plugins: []"), 0o600))

	w := watch.New()
	w.Debounce = 20 * time.Millisecond

	var calls int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, []string{cfg}, func(context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		})
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(cfg, []byte("plugins: [{repo: a/b}]"), 0o600))

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 1 }, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestRunIgnoresChangesToUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "plugins.yaml")
	other := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(cfg, []byte("plugins: []"), 0o600))

	w := watch.New()
	w.Debounce = 20 * time.Millisecond

	var calls int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, []string{cfg}, func(context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		})
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(other, []byte("hi"), 0o600))
	time.Sleep(100 * time.Millisecond)

	require.Equal(t, int32(0), atomic.LoadInt32(&calls))
	cancel()
	<-done
}
