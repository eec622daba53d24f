// Package coordinator drives the scan/pause lifecycle of the camera and turns
// detection outcomes into found/updated/lost notifications for the UI.
package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	iface "SpatialScanner/interface"
	"SpatialScanner/logger"
	"SpatialScanner/monitor"
	"SpatialScanner/repository"
	"SpatialScanner/tracker"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const DefaultGraceDelay = 100 * time.Millisecond

var (
	ErrNotStarted       = errors.New("coordinator not started")
	ErrDisposed         = errors.New("coordinator disposed")
	ErrCameraNotRunning = errors.New("camera is not running")
	ErrUnknownObject    = errors.New("unknown object")
)

type Option func(*Coordinator)

func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

// WithGraceDelay sets how long a non-immediate pause waits before clearing.
func WithGraceDelay(d time.Duration) Option {
	return func(co *Coordinator) { co.grace = d }
}

func WithCropper(c iface.Cropper) Option {
	return func(co *Coordinator) { co.cropper = c }
}

func WithInfoRequester(r iface.InfoRequester) Option {
	return func(co *Coordinator) { co.info = r }
}

// WithOnClear registers fn to run on the loop each time the pipeline is
// cleared, before ObjectsCleared is emitted.
func WithOnClear(fn func()) Option {
	return func(co *Coordinator) { co.onClear = append(co.onClear, fn) }
}

func WithSurfaceTargets(targets ...iface.SurfaceTarget) Option {
	return func(co *Coordinator) { co.targets = append(co.targets, targets...) }
}

type Coordinator struct {
	source  iface.FrameSource
	repo    *repository.DetectionRepository
	tracker *tracker.ObjectTracker
	clock   clock.Clock
	grace   time.Duration
	cropper iface.Cropper
	info    iface.InfoRequester
	targets []iface.SurfaceTarget
	onClear []func()

	ctx      context.Context
	cancel   context.CancelFunc
	cmds     chan func()
	loopDone chan struct{}
	events   *dispatcher

	forwardOnce sync.Once
	forwardDone chan struct{}
	infoWG      sync.WaitGroup

	lifeMu    sync.Mutex
	started   bool
	disposing bool
	disposed  bool

	// read from any goroutine
	statusVal atomic.Int32
	propsMu   sync.RWMutex
	props     *iface.CameraProperties

	// owned by the loop goroutine
	status      iface.CameraStatus
	pendingScan bool
	clearTimer  *clock.Timer
	clearSeq    uint64
	selections  map[int]iface.Pose

	log *zap.Logger
}

func New(source iface.FrameSource, repo *repository.DetectionRepository, tr *tracker.ObjectTracker, opts ...Option) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		source:      source,
		repo:        repo,
		tracker:     tr,
		clock:       clock.New(),
		grace:       DefaultGraceDelay,
		ctx:         ctx,
		cancel:      cancel,
		cmds:        make(chan func()),
		loopDone:    make(chan struct{}),
		events:      newDispatcher(),
		forwardDone: make(chan struct{}),
		status:      iface.Paused,
		selections:  make(map[int]iface.Pose),
		log:         logger.Named("coordinator"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.grace < 0 {
		c.grace = 0
	}
	c.statusVal.Store(int32(iface.Paused))
	return c
}

// Start launches the coordinator goroutines. Calling it again is a no-op.
func (c *Coordinator) Start() error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	if c.disposing {
		return ErrDisposed
	}
	if c.started {
		return nil
	}
	c.started = true
	monitor.CameraStatus.Set(float64(iface.Paused))
	go c.events.run()
	go c.loop()
	return nil
}

func (c *Coordinator) Subscribe(fn func(Event)) func() {
	return c.events.subscribe(fn)
}

// Scan starts the camera, initializing it first when needed.
func (c *Coordinator) Scan() error {
	return c.do(c.scan)
}

// Pause stops the camera. With immediate set the tracked objects are cleared at
// once, otherwise after the grace delay.
func (c *Coordinator) Pause(immediate bool) error {
	return c.do(func() { c.pause(immediate) })
}

// SelectObject marks a tracked object as chosen by the user and requests
// information about it on the next frame that still contains it.
func (c *Coordinator) SelectObject(id int, pose iface.Pose) error {
	var err error
	if derr := c.do(func() { err = c.selectObject(id, pose) }); derr != nil {
		return derr
	}
	return err
}

func (c *Coordinator) Status() iface.CameraStatus {
	return iface.CameraStatus(c.statusVal.Load())
}

func (c *Coordinator) Tracked() []iface.DetectedObject {
	return c.tracker.Snapshot()
}

// Properties returns the last camera properties, or false before the camera
// has been initialized.
func (c *Coordinator) Properties() (iface.CameraProperties, bool) {
	c.propsMu.RLock()
	defer c.propsMu.RUnlock()
	if c.props == nil {
		return iface.CameraProperties{}, false
	}
	return *c.props, true
}

// Dispose pauses immediately and releases every resource. Safe to call more
// than once and before Start.
func (c *Coordinator) Dispose() error {
	c.lifeMu.Lock()
	if c.disposing {
		c.lifeMu.Unlock()
		return nil
	}
	c.disposing = true
	started := c.started
	c.lifeMu.Unlock()

	if started {
		_ = c.do(func() {
			c.pause(true)
			if c.clearTimer != nil {
				c.cancelClear()
				c.clearPipeline()
			}
		})
	}

	c.lifeMu.Lock()
	c.disposed = true
	c.lifeMu.Unlock()

	c.cancel()
	if started {
		<-c.loopDone
	}
	c.forwardOnce.Do(func() { close(c.forwardDone) })
	<-c.forwardDone

	c.repo.Close()
	err := multierr.Append(nil, c.source.Close())
	c.infoWG.Wait()

	c.events.close()
	if started {
		<-c.events.done
	}
	c.log.Info("coordinator disposed")
	return err
}

func (c *Coordinator) do(fn func()) error {
	c.lifeMu.Lock()
	started, disposed := c.started, c.disposed
	c.lifeMu.Unlock()
	if disposed {
		return ErrDisposed
	}
	if !started {
		return ErrNotStarted
	}
	done := make(chan struct{})
	select {
	case c.cmds <- func() { fn(); close(done) }:
	case <-c.loopDone:
		return ErrDisposed
	}
	select {
	case <-done:
		return nil
	case <-c.loopDone:
		return ErrDisposed
	}
}

// post queues fn on the loop without waiting for it.
func (c *Coordinator) post(fn func()) {
	select {
	case c.cmds <- fn:
	case <-c.ctx.Done():
	}
}

func (c *Coordinator) loop() {
	defer close(c.loopDone)
	props := c.source.Properties()
	for {
		select {
		case <-c.ctx.Done():
			return
		case fn := <-c.cmds:
			fn()
		case <-c.repo.Ready():
			c.handleOutcome()
		case p, ok := <-props:
			if !ok {
				props = nil
				continue
			}
			c.onProperties(p)
		}
	}
}

// forward feeds camera frames to the repository until the coordinator stops.
// Frames that arrive while paused are released without detection.
func (c *Coordinator) forward() {
	defer close(c.forwardDone)
	frames := c.source.Frames()
	for {
		select {
		case <-c.ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			// generation before status: a pause in between makes the frame stale
			gen := c.repo.Generation()
			if c.Status() != iface.Scanning {
				monitor.FramesDropped.WithLabelValues(monitor.DropPaused).Inc()
				f.Release()
				continue
			}
			c.repo.ProcessFrame(gen, f)
		}
	}
}

func (c *Coordinator) startForwarding() {
	c.forwardOnce.Do(func() { go c.forward() })
}

func (c *Coordinator) scan() {
	if !c.source.IsInitialized() {
		c.pendingScan = true
		c.source.Initialize()
		c.log.Debug("camera initializing, scan deferred")
		return
	}
	c.pendingScan = false
	if c.clearTimer != nil {
		c.cancelClear()
		c.clearPipeline()
	}
	if !c.source.IsRunning() {
		if err := c.source.Start(c.targets); err != nil {
			c.log.Error("start camera failed", zap.Error(err))
			return
		}
	}
	c.startForwarding()
	c.setStatus(iface.Scanning)
}

func (c *Coordinator) pause(immediate bool) {
	if !c.source.IsInitialized() || !c.source.IsRunning() {
		c.pendingScan = false
		return
	}
	c.source.Stop()
	c.setStatus(iface.Paused)
	if immediate || c.grace == 0 {
		c.cancelClear()
		c.clearPipeline()
		return
	}
	c.scheduleClear()
}

func (c *Coordinator) scheduleClear() {
	c.cancelClear()
	seq := c.clearSeq
	c.clearTimer = c.clock.AfterFunc(c.grace, func() {
		c.post(func() {
			if c.clearTimer == nil || c.clearSeq != seq {
				return
			}
			c.clearTimer = nil
			c.clearPipeline()
		})
	})
}

func (c *Coordinator) cancelClear() {
	if c.clearTimer == nil {
		return
	}
	c.clearTimer.Stop()
	c.clearTimer = nil
	c.clearSeq++
}

func (c *Coordinator) clearPipeline() {
	c.repo.Clear()
	ids := c.tracker.Clear()
	clear(c.selections)
	for _, fn := range c.onClear {
		fn()
	}
	c.events.emit(Event{Kind: ObjectsCleared, IDs: ids})
}

func (c *Coordinator) setStatus(s iface.CameraStatus) {
	if c.status == s {
		return
	}
	c.status = s
	c.statusVal.Store(int32(s))
	monitor.CameraStatus.Set(float64(s))
	c.log.Info("camera status changed", zap.Stringer("status", s))
	c.events.emit(Event{Kind: StatusChanged, Status: s.String()})
}

func (c *Coordinator) onProperties(p iface.CameraProperties) {
	c.propsMu.Lock()
	c.props = &p
	c.propsMu.Unlock()
	c.events.emit(Event{Kind: PropertiesChanged, Properties: &p})
	if c.pendingScan {
		c.scan()
	}
}

func (c *Coordinator) handleOutcome() {
	o := c.repo.Take()
	if o == nil {
		return
	}
	defer o.Release()
	// 暂停后到达的结果直接丢弃
	if !c.repo.IsCurrent(o) || c.status != iface.Scanning {
		monitor.FramesDropped.WithLabelValues(monitor.DropStale).Inc()
		return
	}

	changes := c.tracker.Reconcile(o.Result.Objects)
	if len(changes.Found) > 0 {
		c.events.emit(Event{Kind: ObjectsFound, Objects: changes.Found})
	}
	if len(changes.Updated) > 0 {
		c.events.emit(Event{Kind: ObjectsUpdated, Objects: changes.Updated})
	}
	if len(changes.Lost) > 0 {
		for _, id := range changes.Lost {
			delete(c.selections, id)
		}
		c.events.emit(Event{Kind: ObjectsLost, IDs: changes.Lost})
	}
	c.serveSelections(o)
}

func (c *Coordinator) selectObject(id int, pose iface.Pose) error {
	if !c.source.IsRunning() {
		return ErrCameraNotRunning
	}
	if _, ok := c.tracker.Get(id); !ok {
		return ErrUnknownObject
	}
	p := pose
	c.events.emit(Event{Kind: ObjectSelected, ObjectID: id, Pose: &p})
	if c.info != nil {
		c.selections[id] = pose
	}
	return nil
}

func (c *Coordinator) serveSelections(o *repository.Outcome) {
	for id, pose := range c.selections {
		obj, ok := c.tracker.Get(id)
		if !ok {
			continue
		}
		delete(c.selections, id)
		req := iface.ObjectInfoRequest{
			ObjectID:   id,
			Label:      obj.Label,
			Confidence: obj.Confidence,
			Pose:       pose,
		}
		if c.cropper != nil {
			crop, err := c.cropper.Crop(o.Image, obj.Box)
			if err != nil {
				c.log.Warn("crop failed", zap.Int("object", id), zap.Error(err))
			} else {
				req.Crop = crop
			}
		}
		req.CapturedAt = c.clock.Now()
		c.requestInfo(req)
	}
}

func (c *Coordinator) requestInfo(req iface.ObjectInfoRequest) {
	c.infoWG.Add(1)
	go func() {
		defer c.infoWG.Done()
		info, err := c.info.RequestInfo(c.ctx, req)
		if err != nil {
			c.log.Warn("object info request failed", zap.Int("object", req.ObjectID), zap.Error(err))
			c.events.emit(Event{Kind: ObjectInfo, ObjectID: req.ObjectID, Error: err.Error()})
			return
		}
		c.events.emit(Event{Kind: ObjectInfo, ObjectID: req.ObjectID, Info: info})
	}()
}
