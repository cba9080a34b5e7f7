package playback

import (
	"context"
	stderrors "errors"
	"fmt"
	"image"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/framecast/internal/checkpoint"
	"github.com/conneroisu/framecast/internal/errors"
	"github.com/conneroisu/framecast/internal/plan"
	"github.com/conneroisu/framecast/internal/template"
)

// gateRenderer blocks every capture until gate is closed.
type gateRenderer struct {
	gate     chan struct{}
	started  chan string
	inflight int32
	maxSeen  int32

	mu       sync.Mutex
	captured []string
	inits    int
	disposed int
}

func newGateRenderer() *gateRenderer {
	return &gateRenderer{gate: make(chan struct{}), started: make(chan string, 64)}
}

func (r *gateRenderer) Init(context.Context, *plan.RenderPlan) error {
	r.mu.Lock()
	r.inits++
	r.mu.Unlock()
	return nil
}

func (r *gateRenderer) CaptureFrame(_ context.Context, markup string) (*image.RGBA, error) {
	n := atomic.AddInt32(&r.inflight, 1)
	defer atomic.AddInt32(&r.inflight, -1)
	for {
		seen := atomic.LoadInt32(&r.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&r.maxSeen, seen, n) {
			break
		}
	}

	r.started <- markup
	<-r.gate

	r.mu.Lock()
	r.captured = append(r.captured, markup)
	r.mu.Unlock()
	return image.NewRGBA(image.Rect(0, 0, 2, 2)), nil
}

func (r *gateRenderer) Dispose() error {
	r.mu.Lock()
	r.disposed++
	r.mu.Unlock()
	return nil
}

func (r *gateRenderer) capturedMarkup() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.captured...)
}

func previewPlan(t *testing.T, name string, markers []template.Marker, render func(rc template.RenderContext) (string, error)) *plan.RenderPlan {
	t.Helper()
	if render == nil {
		render = func(rc template.RenderContext) (string, error) {
			return fmt.Sprintf("%s:%d", name, rc.Frame), nil
		}
	}
	tpl := &template.Func{
		RenderFunc: func(_ context.Context, rc template.RenderContext) (string, error) { return render(rc) },
		Cfg:        template.Config{Markers: markers},
	}
	p, err := plan.BuildRenderPlan(tpl, plan.RenderJob{Width: 2, Height: 2, FPS: 10, DurationSeconds: 2})
	require.NoError(t, err)
	return p
}

type published struct {
	mu     sync.Mutex
	frames []Frame
}

func (p *published) add(f Frame) {
	p.mu.Lock()
	p.frames = append(p.frames, f)
	p.mu.Unlock()
}

func (p *published) numbers() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int, len(p.frames))
	for i, f := range p.frames {
		out[i] = f.Frame
	}
	return out
}

func TestSessionCollapsesRequestsToLatestWanted(t *testing.T) {
	store := NewStore(nil)
	r := newGateRenderer()
	s := NewSession(store, r, SessionOptions{})
	defer s.Close()

	var pub published
	s.OnFrame(pub.add)

	require.NoError(t, s.SetTemplate(context.Background(), previewPlan(t, "a", nil, nil)))
	assert.Equal(t, "a:0", <-r.started)

	store.SetFrame(5)
	store.SetFrame(7)
	store.SetFrame(9)

	close(r.gate)
	s.Wait()

	assert.Equal(t, []string{"a:0", "a:9"}, r.capturedMarkup())
	assert.Equal(t, []int{0, 9}, pub.numbers())
	assert.Equal(t, int32(1), atomic.LoadInt32(&r.maxSeen), "at most one render in flight")
}

func TestSessionSkipsRerenderOfSameFrame(t *testing.T) {
	store := NewStore(nil)
	r := newGateRenderer()
	s := NewSession(store, r, SessionOptions{})
	defer s.Close()

	require.NoError(t, s.SetTemplate(context.Background(), previewPlan(t, "a", nil, nil)))
	<-r.started

	store.SetFrame(3)
	store.SetFrame(0)

	close(r.gate)
	s.Wait()
	assert.Equal(t, []string{"a:0"}, r.capturedMarkup())
}

func TestSessionServesCachedFrames(t *testing.T) {
	store := NewStore(nil)
	r := newGateRenderer()
	close(r.gate)
	s := NewSession(store, r, SessionOptions{})
	defer s.Close()

	var pub published
	s.OnFrame(pub.add)

	require.NoError(t, s.SetTemplate(context.Background(), previewPlan(t, "a", nil, nil)))
	s.Wait()
	store.SetFrame(4)
	s.Wait()
	store.SetFrame(0)
	s.Wait()

	assert.Equal(t, []string{"a:0", "a:4"}, r.capturedMarkup())
	assert.Equal(t, []int{0, 4, 0}, pub.numbers())

	data, ok := store.CachedFrame(4)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(string(data), "\x89PNG"))
}

func TestSessionSetTemplateInvalidatesAndRerenders(t *testing.T) {
	store := NewStore(nil)
	r := newGateRenderer()
	close(r.gate)
	s := NewSession(store, r, SessionOptions{})
	defer s.Close()

	var pub published
	s.OnFrame(pub.add)

	require.NoError(t, s.SetTemplate(context.Background(), previewPlan(t, "a", nil, nil)))
	s.Wait()
	store.SetFrame(6)
	s.Wait()
	require.True(t, store.Cache().Contains(6))

	require.NoError(t, s.SetTemplate(context.Background(), previewPlan(t, "b", nil, nil)))
	s.Wait()

	assert.False(t, store.Cache().Contains(0), "old frames are dropped wholesale")
	assert.Equal(t, uint64(2), s.Generation())
	assert.Equal(t, "b:6", r.capturedMarkup()[len(r.capturedMarkup())-1])

	pub.mu.Lock()
	last := pub.frames[len(pub.frames)-1]
	pub.mu.Unlock()
	assert.Equal(t, 6, last.Frame)
	assert.Equal(t, uint64(2), last.Generation)

	r.mu.Lock()
	assert.Equal(t, 2, r.inits)
	assert.Equal(t, 1, r.disposed)
	r.mu.Unlock()
}

func TestSessionDiscardsStaleGeneration(t *testing.T) {
	store := NewStore(nil)
	r := newGateRenderer()
	s := NewSession(store, r, SessionOptions{})
	defer s.Close()

	var pub published
	s.OnFrame(pub.add)

	require.NoError(t, s.SetTemplate(context.Background(), previewPlan(t, "a", nil, nil)))
	<-r.started

	next := previewPlan(t, "b", nil, nil)
	done := make(chan error, 1)
	go func() { done <- s.SetTemplate(context.Background(), next) }()

	close(r.gate)
	require.NoError(t, <-done)
	s.Wait()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.NotEmpty(t, pub.frames)
	assert.Equal(t, uint64(2), pub.frames[len(pub.frames)-1].Generation)
	for i := 1; i < len(pub.frames); i++ {
		assert.LessOrEqual(t, pub.frames[i-1].Generation, pub.frames[i].Generation, "generations never go backwards")
	}
}

func TestSessionRuntimeCheckpoints(t *testing.T) {
	store := NewStore(nil)
	r := newGateRenderer()
	close(r.gate)
	s := NewSession(store, r, SessionOptions{})
	defer s.Close()

	frame := 15
	p := previewPlan(t, "a", []template.Marker{{ID: "outro", Frame: &frame}}, func(rc template.RenderContext) (string, error) {
		if rc.Frame >= 5 {
			return `<div data-checkpoint="title-card">x</div>`, nil
		}
		return "<div></div>", nil
	})
	require.NoError(t, s.SetTemplate(context.Background(), p))
	s.Wait()

	store.SetFrame(8)
	s.Wait()
	cp, ok := s.Checkpoints().Get("title-card")
	require.True(t, ok)
	assert.Equal(t, 8, cp.Frame)
	assert.Equal(t, checkpoint.SourceRuntime, cp.Source.Type)
	assert.Equal(t, "Title Card", cp.Label)

	store.SetFrame(5)
	s.Wait()
	cp, _ = s.Checkpoints().Get("title-card")
	assert.Equal(t, 5, cp.Frame)

	next, ok := s.Checkpoints().GetNext(5)
	require.True(t, ok)
	assert.Equal(t, "outro", next.ID)
}

func TestSessionPublishesRenderErrors(t *testing.T) {
	store := NewStore(nil)
	r := newGateRenderer()
	close(r.gate)
	s := NewSession(store, r, SessionOptions{})
	defer s.Close()

	var mu sync.Mutex
	var failed []error
	s.OnError(func(_ int, err error) {
		mu.Lock()
		failed = append(failed, err)
		mu.Unlock()
	})

	p := previewPlan(t, "a", nil, func(rc template.RenderContext) (string, error) {
		if rc.Frame == 3 {
			return "", stderrors.New("boom")
		}
		return "ok", nil
	})
	require.NoError(t, s.SetTemplate(context.Background(), p))
	s.Wait()
	store.SetFrame(3)
	s.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, failed, 1)
	var rte *errors.TemplateRuntimeError
	require.ErrorAs(t, failed[0], &rte)
	assert.Equal(t, 3, rte.Details.Frame)
	assert.False(t, store.Cache().Contains(3))
}

func TestSessionRequestBeforeTemplateIsIgnored(t *testing.T) {
	store := NewStore(nil)
	r := newGateRenderer()
	s := NewSession(store, r, SessionOptions{})

	s.Request(3)
	s.Wait()
	assert.Empty(t, r.capturedMarkup())
	require.NoError(t, s.Close())
}
