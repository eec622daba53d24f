package coordinator

import (
	"sync"

	iface "SpatialScanner/interface"
)

type EventKind string

const (
	StatusChanged     EventKind = "status_changed"
	ObjectsFound      EventKind = "objects_found"
	ObjectsUpdated    EventKind = "objects_updated"
	ObjectsLost       EventKind = "objects_lost"
	ObjectsCleared    EventKind = "objects_cleared"
	ObjectSelected    EventKind = "object_selected"
	ObjectInfo        EventKind = "object_info"
	PropertiesChanged EventKind = "camera_properties"
)

// Event is a notification for the visualization layer. Only the fields relevant
// to Kind are set.
type Event struct {
	Kind       EventKind               `json:"kind"`
	Status     string                  `json:"status,omitempty"`
	Objects    []iface.DetectedObject  `json:"objects,omitempty"`
	IDs        []int                   `json:"ids,omitempty"`
	ObjectID   int                     `json:"objectId,omitempty"`
	Pose       *iface.Pose             `json:"pose,omitempty"`
	Info       *iface.ObjectInfo       `json:"info,omitempty"`
	Error      string                  `json:"error,omitempty"`
	Properties *iface.CameraProperties `json:"properties,omitempty"`
}

// dispatcher delivers events in order on its own goroutine so observers can call
// back into the coordinator.
type dispatcher struct {
	mu        sync.Mutex
	cond      *sync.Cond
	queue     []Event
	observers map[uint64]func(Event)
	nextID    uint64
	closed    bool
	done      chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{observers: make(map[uint64]func(Event)), done: make(chan struct{})}
	d.cond = sync.NewCond(&d.mu)
	return d
}

func (d *dispatcher) subscribe(fn func(Event)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.observers[id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.observers, id)
			d.mu.Unlock()
		})
	}
}

func (d *dispatcher) emit(e Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.queue = append(d.queue, e)
	d.cond.Signal()
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 && d.closed {
			d.mu.Unlock()
			return
		}
		e := d.queue[0]
		d.queue = d.queue[1:]
		observers := make([]func(Event), 0, len(d.observers))
		for _, fn := range d.observers {
			observers = append(observers, fn)
		}
		d.mu.Unlock()

		for _, fn := range observers {
			fn(e)
		}
	}
}

// close delivers what is already queued, then stops the dispatcher.
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()
}
