package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypeString(t *testing.T) {
	testCases := []struct {
		eventType EventType
		expected  string
	}{
		{EventTypeCreated, "created"},
		{EventTypeModified, "modified"},
		{EventTypeDeleted, "deleted"},
		{EventTypeRenamed, "renamed"},
		{EventType(42), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.eventType.String())
		})
	}
}

func TestDebouncerGroupsAndDeduplicates(t *testing.T) {
	d := newDebouncer(20 * time.Millisecond)

	d.addEvent(ChangeEvent{Type: EventTypeCreated, Path: "b.tsx"})
	d.addEvent(ChangeEvent{Type: EventTypeModified, Path: "a.css"})
	d.addEvent(ChangeEvent{Type: EventTypeModified, Path: "b.tsx"})

	select {
	case events := <-d.output:
		require.Len(t, events, 2)
		assert.Equal(t, "a.css", events[0].Path)
		assert.Equal(t, "b.tsx", events[1].Path)
		assert.Equal(t, EventTypeModified, events[1].Type, "last event per path wins")
	case <-time.After(2 * time.Second):
		t.Fatal("debouncer never flushed")
	}

	select {
	case events := <-d.output:
		t.Fatalf("unexpected second batch: %v", events)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestFilters(t *testing.T) {
	dir := t.TempDir()
	scene := filepath.Join(dir, "scene.tsx")

	only := PathFilter(scene)
	assert.True(t, only(scene))
	assert.False(t, only(filepath.Join(dir, "other.tsx")))

	assert.True(t, SourceFilter("scene.tsx"))
	assert.True(t, SourceFilter("theme.CSS"))
	assert.False(t, SourceFilter("notes.md"))

	assert.True(t, NoEditorTempFilter("scene.tsx"))
	assert.False(t, NoEditorTempFilter(".#scene.tsx"))
	assert.False(t, NoEditorTempFilter("scene.tsx~"))
	assert.False(t, NoEditorTempFilter(".scene.tsx.swp"))
}

func TestWatchFilesReportsOnlyWatchedFiles(t *testing.T) {
	dir := t.TempDir()
	scene := filepath.Join(dir, "scene.tsx")
	other := filepath.Join(dir, "other.tsx")
	require.NoError(t, os.WriteFile(scene, []byte("v1"), 0o644))
	require.NoError(t, os.WriteFile(other, []byte("v1"), 0o644))

	fw, err := NewFileWatcher(30*time.Millisecond, nil)
	require.NoError(t, err)
	require.NoError(t, fw.WatchFiles(scene))

	var mu sync.Mutex
	var batches [][]ChangeEvent
	got := make(chan struct{}, 10)
	fw.AddHandler(func(_ context.Context, events []ChangeEvent) error {
		mu.Lock()
		batches = append(batches, events)
		mu.Unlock()
		got <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fw.Run(ctx) }()

	// Give the watch loop a moment to start.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(other, []byte("v2"), 0o644))
	require.NoError(t, os.WriteFile(scene, []byte("v2"), 0o644))
	require.NoError(t, os.WriteFile(scene, []byte("v3"), 0o644))

	select {
	case <-got:
	case <-time.After(3 * time.Second):
		t.Fatal("no change reported")
	}

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	for _, batch := range batches {
		for _, ev := range batch {
			assert.Equal(t, scene, ev.Path)
		}
	}
}

func TestAddPathMissing(t *testing.T) {
	fw, err := NewFileWatcher(0, nil)
	require.NoError(t, err)
	defer fw.Stop()

	assert.Error(t, fw.AddPath(filepath.Join(t.TempDir(), "missing")))
	assert.Equal(t, DefaultDebounce, fw.debouncer.delay)
}
