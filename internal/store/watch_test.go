package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForKey(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case key, ok := <-ch:
			require.True(t, ok, "watch channel closed before %q arrived", want)
			if key == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestWatchInputEmitsNewDocuments(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l, err := NewLocal(t.TempDir(), nil)
	require.NoError(t, err)
	require.NoError(t, EnsureLayout(ctx, l))

	evCh, _, err := l.WatchInput(ctx, WatchConfig{Debounce: 20 * time.Millisecond})
	require.NoError(t, err)

	require.NoError(t, l.Write(ctx, "input_invoices/new.pdf", []byte("doc")))
	waitForKey(t, evCh, "input_invoices/new.pdf")
}

func TestWatchInputIgnoresUnknownExtensions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l, err := NewLocal(t.TempDir(), nil)
	require.NoError(t, err)
	require.NoError(t, EnsureLayout(ctx, l))

	evCh, _, err := l.WatchInput(ctx, WatchConfig{})
	require.NoError(t, err)

	require.NoError(t, l.Write(ctx, "input_invoices/notes.txt", []byte("skip me")))
	require.NoError(t, l.Write(ctx, "input_invoices/real.pdf", []byte("doc")))

	waitForKey(t, evCh, "input_invoices/real.pdf")
	select {
	case key := <-evCh:
		assert.NotEqual(t, "input_invoices/notes.txt", key)
	default:
	}
}

func TestWatchInputInitialScan(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	l, err := NewLocal(dir, nil)
	require.NoError(t, err)
	require.NoError(t, EnsureLayout(ctx, l))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "input_invoices", "old.pdf"), []byte("doc"), 0o644))

	evCh, _, err := l.WatchInput(ctx, WatchConfig{InitialScan: true})
	require.NoError(t, err)
	waitForKey(t, evCh, "input_invoices/old.pdf")
}

func TestWatchInputStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	l, err := NewLocal(t.TempDir(), nil)
	require.NoError(t, err)
	require.NoError(t, EnsureLayout(ctx, l))

	evCh, _, err := l.WatchInput(ctx, WatchConfig{})
	require.NoError(t, err)

	cancel()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-evCh:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("watch channel not closed after cancel")
		}
	}
}
