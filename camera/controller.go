package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	iface "SpatialScanner/interface"
	"SpatialScanner/logger"
	"SpatialScanner/monitor"

	"go.uber.org/zap"
)

var (
	ErrNotInitialized = errors.New("camera not initialized")
	ErrClosed         = errors.New("camera closed")
)

// Device is the capture hardware (or a file/stream standing in for it).
type Device interface {
	Open(ctx context.Context) (iface.CameraProperties, error)
	// Read blocks until the next frame. The returned func releases its buffer.
	Read() (iface.ImageData, func(), error)
	Close() error
}

// Controller turns a Device into a FrameSource.
type Controller struct {
	device   Device
	interval time.Duration
	timeout  time.Duration

	mu           sync.Mutex
	initializing bool
	initialized  bool
	running      bool
	closed       bool
	propsSent    bool
	stopCh       chan struct{}
	captureDone  chan struct{}
	seq          uint64

	frames chan iface.Frame
	props  chan iface.CameraProperties
	log    *zap.Logger
}

func NewController(device Device, fps int, openTimeout time.Duration) *Controller {
	if fps <= 0 {
		fps = 15
	}
	if openTimeout <= 0 {
		openTimeout = 10 * time.Second
	}
	return &Controller{
		device:   device,
		interval: time.Second / time.Duration(fps),
		timeout:  openTimeout,
		frames:   make(chan iface.Frame, 1),
		props:    make(chan iface.CameraProperties, 1),
		log:      logger.Named("camera"),
	}
}

// Initialize opens the device in the background. The camera properties are
// delivered on Properties once the device is open.
func (c *Controller) Initialize() {
	c.mu.Lock()
	if c.initializing || c.initialized || c.closed {
		c.mu.Unlock()
		return
	}
	c.initializing = true
	c.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		props, err := c.device.Open(ctx)

		c.mu.Lock()
		defer c.mu.Unlock()
		c.initializing = false
		if err != nil {
			c.log.Error("camera initialization failed", zap.Error(err))
			return
		}
		if c.closed {
			_ = c.device.Close()
			return
		}
		c.initialized = true
		c.log.Info("camera initialized", zap.Int("width", props.Width), zap.Int("height", props.Height))
		if !c.propsSent {
			c.propsSent = true
			c.props <- props
		}
	}()
}

func (c *Controller) Start(targets []iface.SurfaceTarget) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if !c.initialized {
		return ErrNotInitialized
	}
	if c.running {
		return nil
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.captureDone = make(chan struct{})
	go c.capture(c.stopCh, c.captureDone, append([]iface.SurfaceTarget(nil), targets...))
	return nil
}

func (c *Controller) capture(stop <-chan struct{}, done chan<- struct{}, targets []iface.SurfaceTarget) {
	defer close(done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		img, release, err := c.device.Read()
		if err != nil {
			c.log.Warn("frame read failed", zap.Error(err))
			continue
		}
		for _, t := range targets {
			t.Present(img)
		}

		c.mu.Lock()
		c.seq++
		frame := iface.Frame{Seq: c.seq, Image: img, CapturedAt: time.Now(), Release: release}
		c.mu.Unlock()

		select {
		case c.frames <- frame:
		default:
			// consumer still holds the previous frame
			monitor.FramesDropped.WithLabelValues(monitor.DropSource).Inc()
			release()
		}
	}
}

// Stop halts capture, waits for the capture goroutine to exit and releases
// the frame still buffered for the consumer.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	stop, done := c.stopCh, c.captureDone
	c.mu.Unlock()

	close(stop)
	<-done
	c.drain(monitor.DropPaused)
}

// drain releases frames captured but not yet taken by the consumer.
func (c *Controller) drain(reason string) {
	for {
		select {
		case f := <-c.frames:
			if reason != "" {
				monitor.FramesDropped.WithLabelValues(reason).Inc()
			}
			f.Release()
		default:
			return
		}
	}
}

func (c *Controller) IsInitialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Controller) Frames() <-chan iface.Frame {
	return c.frames
}

func (c *Controller) Properties() <-chan iface.CameraProperties {
	return c.props
}

// Close stops capture, releases any undelivered frame and closes the device.
func (c *Controller) Close() error {
	c.Stop()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	wasOpen := c.initialized
	c.initialized = false
	c.mu.Unlock()

	c.drain("")
	if !wasOpen {
		return nil
	}
	if err := c.device.Close(); err != nil {
		return fmt.Errorf("close camera device: %w", err)
	}
	return nil
}
