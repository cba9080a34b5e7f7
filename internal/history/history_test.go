package history

import (
	"context"
	stderrors "errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/framecast/internal/errors"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRender() Render {
	return Render{
		TemplatePath:    "scenes/intro.tsx",
		Width:           1280,
		Height:          720,
		FPS:             30,
		DurationSeconds: 2,
		TotalFrames:     60,
		Format:          "mp4",
	}
}

func TestStartAndSucceed(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	r, err := s.Start(ctx, sampleRender())
	require.NoError(t, err)
	assert.Len(t, r.ID, 36)
	assert.Equal(t, StatusRunning, r.Status)

	require.NoError(t, s.Succeed(ctx, r.ID, "/tmp/out.mp4", 4096))

	got, err := s.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, got.Status)
	assert.Equal(t, "/tmp/out.mp4", got.OutputPath)
	assert.Equal(t, int64(4096), got.OutputBytes)
	assert.Equal(t, 60, got.TotalFrames)
	assert.Equal(t, "scenes/intro.tsx", got.TemplatePath)
	require.NotNil(t, got.FinishedAt)
	assert.Nil(t, got.FailedFrame)
	assert.True(t, got.StartedAt.Equal(r.StartedAt))
}

func TestFailKeepsRuntimeDetails(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	r, err := s.Start(ctx, sampleRender())
	require.NoError(t, err)

	cause := errors.NewTemplateRuntimeError(stderrors.New("boom"), 12, 0.4, 0.2, map[string]interface{}{"title": "hi"})
	require.NoError(t, s.Fail(ctx, r.ID, cause))

	got, err := s.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, errors.CodeTemplateRuntime, got.ErrorCode)
	require.NotNil(t, got.FailedFrame)
	assert.Equal(t, 12, *got.FailedFrame)
	assert.Contains(t, got.ErrorDetails, `"frame":12`)
	assert.Contains(t, got.ErrorDetails, `"title":"hi"`)
}

func TestFailWithStructuredError(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	r, err := s.Start(ctx, sampleRender())
	require.NoError(t, err)

	cause := errors.NewEnvironmentError(errors.ErrCodeMissingBackend, "ffmpeg not found", nil)
	require.NoError(t, s.Fail(ctx, r.ID, cause))

	got, err := s.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, errors.ErrCodeMissingBackend, got.ErrorCode)
	assert.Contains(t, got.ErrorMessage, "ffmpeg not found")
	assert.Nil(t, got.FailedFrame)
	assert.Empty(t, got.ErrorDetails)
}

func TestGetUnknown(t *testing.T) {
	s := openMemory(t)
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.Succeed(context.Background(), "missing", "", 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListNewestFirst(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Second)
		s.now = func() time.Time { return at }
		r, err := s.Start(ctx, sampleRender())
		require.NoError(t, err)
		ids = append(ids, r.ID)
	}

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{ids[2], ids[1], ids[0]}, []string{all[0].ID, all[1].ID, all[2].ID})

	limited, err := s.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
	assert.Equal(t, ids[2], limited[0].ID)
}

func TestOpenMarksInterruptedRenders(t *testing.T) {
	deadPID := math.MaxInt32

	tests := []struct {
		name   string
		update string
		args   []any
		want   Status
	}{
		{name: "live owner keeps running", want: StatusRunning},
		{name: "dead owner", update: "UPDATE renders SET pid = ?", args: []any{deadPID}, want: StatusFailed},
		{name: "legacy row without owner", update: "UPDATE renders SET pid = 0", want: StatusFailed},
		{
			name:   "stale even with live owner",
			update: "UPDATE renders SET started_at = ?",
			args:   []any{formatTime(time.Now().Add(-2 * StaleAfter))},
			want:   StatusFailed,
		},
		{
			name:   "recent row from another host",
			update: "UPDATE renders SET host = 'elsewhere', pid = ?",
			args:   []any{deadPID},
			want:   StatusRunning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", "history.db")
			ctx := context.Background()

			s, err := Open(path, nil)
			require.NoError(t, err)
			r, err := s.Start(ctx, sampleRender())
			require.NoError(t, err)
			if tt.update != "" {
				_, err = s.conn.ExecContext(ctx, tt.update, tt.args...)
				require.NoError(t, err)
			}
			require.NoError(t, s.Close())

			s, err = Open(path, nil)
			require.NoError(t, err)
			defer s.Close()

			got, err := s.Get(ctx, r.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Status)
			if tt.want == StatusFailed {
				assert.Equal(t, "interrupted before completion", got.ErrorMessage)
				assert.NotNil(t, got.FinishedAt)
			} else {
				assert.Nil(t, got.FinishedAt)
			}
		})
	}
}

func TestProcessAlive(t *testing.T) {
	assert.True(t, processAlive(os.Getpid()))
	assert.False(t, processAlive(0))
	assert.False(t, processAlive(-1))
}

func TestTimestampsSortAsText(t *testing.T) {
	a := formatTime(time.Date(2026, 1, 1, 0, 0, 0, 100000000, time.UTC))
	b := formatTime(time.Date(2026, 1, 1, 0, 0, 0, 120000000, time.UTC))
	assert.Less(t, a, b)

	parsed, err := parseTime(b)
	require.NoError(t, err)
	assert.Equal(t, 120000000, parsed.Nanosecond())
}
