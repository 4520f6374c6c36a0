package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type staticGate struct {
	busy map[string]bool
}

func (g *staticGate) InFlight(key string) bool {
	return g.busy[key]
}

func startWatcher(t *testing.T, dir string, gate Gate) *Watcher {
	t.Helper()
	w := New(dir, 50*time.Millisecond, gate, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("watcher did not stop")
		}
	})
	return w
}

func waitEvent(t *testing.T, w *Watcher) Event {
	t.Helper()
	select {
	case ev := <-w.Events():
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("no event before timeout")
		return Event{}
	}
}

func TestWatcher_EmitsAfterQuietPeriod(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir, nil)
	time.Sleep(100 * time.Millisecond)

	content := []byte("# Call\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "call.md"), content, 0o644))

	ev := waitEvent(t, w)
	require.Equal(t, "call.md", ev.Key)
	require.Equal(t, filepath.Join(dir, "call.md"), ev.Path)

	sum := sha256.Sum256(content)
	require.Equal(t, hex.EncodeToString(sum[:]), ev.Hash)
}

func TestWatcher_DiscoversExistingFiles(t *testing.T) {
	dir := t.TempDir()
	// Dropped while the process was down.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "backlog.md"), []byte("x"), 0o644))

	w := startWatcher(t, dir, nil)
	ev := waitEvent(t, w)
	require.Equal(t, "backlog.md", ev.Key)
}

func TestWatcher_CoalescesInFlight(t *testing.T) {
	dir := t.TempDir()
	gate := &staticGate{busy: map[string]bool{"busy.md": true}}
	w := startWatcher(t, dir, gate)
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "busy.md"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "free.md"), []byte("y"), 0o644))

	ev := waitEvent(t, w)
	require.Equal(t, "free.md", ev.Key, "in-flight document is coalesced")
}

func TestWatcher_ReadyQueueFullRearmsTimer(t *testing.T) {
	w := New(t.TempDir(), 50*time.Millisecond, nil, testLogger())
	for i := 0; i < cap(w.ready); i++ {
		w.ready <- "filler"
	}

	w.mu.Lock()
	w.timers["burst.md"] = time.AfterFunc(w.quiet, func() { w.signalReady("burst.md") })
	w.mu.Unlock()

	// First fire hits the full queue; the timer is re-armed, not dropped.
	time.Sleep(150 * time.Millisecond)
	for i := 0; i < cap(w.ready); i++ {
		<-w.ready
	}

	select {
	case path := <-w.ready:
		require.Equal(t, "burst.md", path)
	case <-time.After(3 * time.Second):
		t.Fatal("signal was dropped instead of re-armed")
	}
}

func TestWatcher_FatalWhenHoldingAreaMissing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "gone")
	w := New(dir, 50*time.Millisecond, nil, testLogger())

	err := w.Run(context.Background())
	require.Error(t, err, "unreadable holding area halts intake")
}

func TestIgnored(t *testing.T) {
	require.True(t, ignored(".hidden"))
	require.True(t, ignored("draft.md~"))
	require.True(t, ignored(".call.md.swp"))
	require.True(t, ignored("upload.tmp"))
	require.False(t, ignored("call.md"))
}
