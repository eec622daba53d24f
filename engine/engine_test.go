package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	iface "SpatialScanner/interface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockBackend struct {
	mu     sync.Mutex
	raws   []iface.RawDetection
	err    error
	panics bool
	calls  int
	closed bool
}

func (m *MockBackend) Infer(ctx context.Context, img iface.ImageData) ([]iface.RawDetection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.panics {
		panic("mock backend exploded")
	}
	return m.raws, m.err
}

func (m *MockBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func detectSync(t *testing.T, d *Detector) *iface.DetectionResult {
	t.Helper()
	done := make(chan *iface.DetectionResult, 1)
	d.Detect(iface.ImageData{Width: 4, Height: 4, Channels: 3}, func(r *iface.DetectionResult) {
		done <- r
	})
	select {
	case r := <-done:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("onComplete was never called")
		return nil
	}
}

func TestDetectionGate(t *testing.T) {
	t.Run("Test Single Flight", func(t *testing.T) {
		g := NewDetectionGate()
		assert.True(t, g.TryAcquire())
		assert.True(t, g.Busy())
		assert.False(t, g.TryAcquire())
		g.Release()
		assert.False(t, g.Busy())
		assert.True(t, g.TryAcquire())
	})

	t.Run("Test Zero Value Is Idle", func(t *testing.T) {
		var g DetectionGate
		assert.True(t, g.TryAcquire())
		assert.False(t, g.TryAcquire())
	})

	t.Run("Test Concurrent Acquire", func(t *testing.T) {
		g := NewDetectionGate()
		const n = 64
		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		start := make(chan struct{})
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if g.TryAcquire() {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		close(start)
		wg.Wait()
		assert.Equal(t, 1, wins)
	})

	t.Run("Test Acquire Release Accounting", func(t *testing.T) {
		g := NewDetectionGate()
		acquires, releases := 0, 0
		for i := 0; i < 100; i++ {
			if g.TryAcquire() {
				acquires++
			}
			if i%3 == 0 {
				g.Release()
				releases++
			}
			assert.LessOrEqual(t, acquires-releases, 1)
		}
	})
}

func TestDetector(t *testing.T) {
	box := iface.BoxFromXYXY(10, 10, 50, 50)

	t.Run("Test Detect Result", func(t *testing.T) {
		backend := &MockBackend{raws: []iface.RawDetection{
			{ClassID: 1, Confidence: 0.9, Box: box},
			{ClassID: 0, Confidence: 0.2, Box: box},
		}}
		d := NewDetector(backend, Config{Names: []string{"person", "cup"}, Conf: 0.5})
		d.StartWorker(1)
		defer d.Close()

		r := detectSync(t, d)
		require.NotNil(t, r)
		require.Len(t, r.Objects, 1)
		assert.Equal(t, "cup", r.Objects[0].Label)
		assert.Equal(t, float32(30), r.Objects[0].Center.X)
		assert.Equal(t, 1, r.Objects[0].ID)
	})

	t.Run("Test Empty Result Is Not Nil", func(t *testing.T) {
		d := NewDetector(&MockBackend{}, Config{})
		d.StartWorker(1)
		defer d.Close()

		r := detectSync(t, d)
		require.NotNil(t, r)
		assert.Empty(t, r.Objects)
	})

	t.Run("Test Backend Error", func(t *testing.T) {
		d := NewDetector(&MockBackend{err: errors.New("boom")}, Config{})
		d.StartWorker(1)
		defer d.Close()
		assert.Nil(t, detectSync(t, d))
	})

	t.Run("Test Backend Panic", func(t *testing.T) {
		backend := &MockBackend{panics: true}
		d := NewDetector(backend, Config{})
		d.StartWorker(1)
		defer d.Close()
		assert.Nil(t, detectSync(t, d))
		// worker survives the panic
		assert.Nil(t, detectSync(t, d))
		assert.Equal(t, 2, backend.calls)
	})

	t.Run("Test Unknown Class", func(t *testing.T) {
		d := NewDetector(&MockBackend{raws: []iface.RawDetection{{ClassID: 7, Confidence: 1, Box: box}}}, Config{})
		d.StartWorker(1)
		defer d.Close()
		r := detectSync(t, d)
		require.NotNil(t, r)
		assert.Equal(t, "class_7", r.Objects[0].Label)
	})

	t.Run("Test Close", func(t *testing.T) {
		backend := &MockBackend{}
		d := NewDetector(backend, Config{})
		d.StartWorker(2)
		require.NoError(t, d.Close())
		require.NoError(t, d.Close())
		assert.True(t, backend.closed)
		assert.Equal(t, int32(CLOSED), d.State.Load())
		assert.Nil(t, detectSync(t, d))
	})

	t.Run("Test Close Without Workers Completes Queued Job", func(t *testing.T) {
		d := NewDetector(&MockBackend{}, Config{QueueSize: 1})
		done := make(chan *iface.DetectionResult, 1)
		d.Detect(iface.ImageData{}, func(r *iface.DetectionResult) { done <- r })
		require.NoError(t, d.Close())
		select {
		case r := <-done:
			assert.Nil(t, r)
		case <-time.After(time.Second):
			t.Fatal("queued job was not completed")
		}
	})
}

func TestIdentityTracker(t *testing.T) {
	raw := func(label string, x float32) iface.RawDetection {
		return iface.RawDetection{Label: label, Confidence: 1, Box: iface.BoxFromXYXY(x, 0, x+10, 10)}
	}

	t.Run("Test Stable Identity", func(t *testing.T) {
		tr := NewIdentityTracker(0.3, 2)
		first := tr.Assign([]iface.RawDetection{raw("cup", 0), raw("book", 100)})
		second := tr.Assign([]iface.RawDetection{raw("book", 101), raw("cup", 1)})
		assert.Equal(t, first[0].ID, second[1].ID)
		assert.Equal(t, first[1].ID, second[0].ID)
	})

	t.Run("Test Label Must Match", func(t *testing.T) {
		tr := NewIdentityTracker(0.3, 2)
		first := tr.Assign([]iface.RawDetection{raw("cup", 0)})
		second := tr.Assign([]iface.RawDetection{raw("mug", 0)})
		assert.NotEqual(t, first[0].ID, second[0].ID)
	})

	t.Run("Test Retire After Misses", func(t *testing.T) {
		tr := NewIdentityTracker(0.3, 1)
		first := tr.Assign([]iface.RawDetection{raw("cup", 0)})
		tr.Assign(nil)
		again := tr.Assign([]iface.RawDetection{raw("cup", 0)})
		assert.Equal(t, first[0].ID, again[0].ID)

		tr.Assign(nil)
		tr.Assign(nil)
		fresh := tr.Assign([]iface.RawDetection{raw("cup", 0)})
		assert.NotEqual(t, first[0].ID, fresh[0].ID)
	})

	t.Run("Test Reset", func(t *testing.T) {
		tr := NewIdentityTracker(0.3, 5)
		first := tr.Assign([]iface.RawDetection{raw("cup", 0)})
		tr.Reset()
		second := tr.Assign([]iface.RawDetection{raw("cup", 0)})
		assert.Greater(t, second[0].ID, first[0].ID)
	})
}

func TestReadLinesReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "names.txt")
	require.NoError(t, os.WriteFile(path, []byte("person\r\ncup\r\n\r\nbook\n"), 0o644))

	names, err := LoadNames(path, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"person", "cup", "book"}, names)

	inline, err := LoadNames("", []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, inline)

	_, err = ReadLinesReadFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
