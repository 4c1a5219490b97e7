package vault

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoalesce(t *testing.T) {
	tests := []struct {
		name   string
		first  ChangeKind
		second ChangeKind
		want   ChangeKind
		drop   bool
	}{
		{"create then modify", ChangeCreate, ChangeModify, ChangeCreate, false},
		{"create then delete", ChangeCreate, ChangeDelete, 0, true},
		{"modify then delete", ChangeModify, ChangeDelete, ChangeDelete, false},
		{"delete then create", ChangeDelete, ChangeCreate, ChangeModify, false},
		{"modify then modify", ChangeModify, ChangeModify, ChangeModify, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, drop := coalesce(tt.first, tt.second)
			assert.Equal(t, tt.drop, drop)
			if !drop {
				assert.Equal(t, tt.want, kind)
			}
		})
	}
}

func TestWatcher_EmitsDebouncedBatch(t *testing.T) {
	dir := t.TempDir()
	v, err := NewFSVault(dir, nil)
	require.NoError(t, err)

	w := NewWatcher(v, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	started := make(chan error, 1)
	go func() { started <- w.Start(ctx) }()
	defer w.Stop()

	// Give the recursive watch registration a moment before writing.
	time.Sleep(100 * time.Millisecond)
	writeNote(t, dir, "note.md", "fresh content")

	select {
	case batch, ok := <-w.Batches():
		require.True(t, ok)
		require.NotEmpty(t, batch)
		assert.Equal(t, "note.md", batch[0].Path)
	case err := <-started:
		t.Fatalf("watcher exited early: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("no batch within deadline")
	}
}

func TestWatcher_StopReturnsWhenStartupFails(t *testing.T) {
	// Given a vault whose root vanishes before Start registers watches
	dir := t.TempDir()
	v, err := NewFSVault(dir, nil)
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(dir))

	w := NewWatcher(v, 10*time.Millisecond)
	startErr := make(chan error, 1)
	go func() { startErr <- w.Start(context.Background()) }()

	select {
	case err := <-startErr:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not fail")
	}

	// Then Stop returns instead of blocking on the never-started loop
	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked after a failed start")
	}
}

func TestWatcher_FlushAfterTeardownIsNoOp(t *testing.T) {
	// Given a watcher with a pending change and an armed debounce timer
	dir := t.TempDir()
	v, err := NewFSVault(dir, nil)
	require.NoError(t, err)

	w := NewWatcher(v, time.Hour)
	w.add(Change{Path: "note.md", Kind: ChangeCreate, Timestamp: time.Now()})

	// When the watcher tears down before the timer fires
	w.teardown()

	// Then a late timer fire neither panics nor sends on the closed channel
	require.NotPanics(t, w.flush)
	_, open := <-w.Batches()
	assert.False(t, open)
}

func TestWatcher_CancelWithPendingDebounceShutsDownCleanly(t *testing.T) {
	dir := t.TempDir()
	v, err := NewFSVault(dir, nil)
	require.NoError(t, err)

	w := NewWatcher(v, 50*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	startErr := make(chan error, 1)
	go func() { startErr <- w.Start(ctx) }()

	time.Sleep(100 * time.Millisecond)
	writeNote(t, dir, "note.md", "arming the debounce timer")
	time.Sleep(10 * time.Millisecond)

	// When cancelled while a flush may still be scheduled
	cancel()

	select {
	case err := <-startErr:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancellation")
	}

	// Then the stream closes; a stray timer fire must not crash the process
	for range w.Batches() {
	}
	time.Sleep(100 * time.Millisecond)
	w.Stop()
}
