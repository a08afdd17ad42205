package vision

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func fixtureModels(t *testing.T) Models {
	t.Helper()
	var m Models
	for _, d := range Domains {
		probs, err := DefaultFixture(d)
		require.NoError(t, err)
		m.set(d, NewAdapter(d, NewFixtureBackend(probs)))
	}
	return m
}

// blockingBackend never answers until released.
type blockingBackend struct {
	release chan struct{}
	probs   []float32
}

func newBlockingBackend(t *testing.T, d Domain) *blockingBackend {
	probs, err := DefaultFixture(d)
	require.NoError(t, err)
	b := &blockingBackend{release: make(chan struct{}), probs: probs}
	t.Cleanup(func() { close(b.release) })
	return b
}

func (b *blockingBackend) Run([]float32) ([]float32, error) {
	<-b.release
	return b.probs, nil
}

func (b *blockingBackend) Close() error { return nil }

type failingBackend struct{ err error }

func (b failingBackend) Run([]float32) ([]float32, error) { return nil, b.err }
func (b failingBackend) Close() error                     { return nil }

var errBackend = errors.New("backend exploded")

// stageRecorder collects stage events from concurrent domains.
type stageRecorder struct {
	mu     sync.Mutex
	events []StageEvent
}

func (r *stageRecorder) OnStage(ev StageEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *stageRecorder) count(s Stage) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Stage == s {
			n++
		}
	}
	return n
}

func (r *stageRecorder) last() StageEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}


func writeFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o600)
}
