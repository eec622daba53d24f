package tracker

import (
	"sort"
	"sync"

	iface "SpatialScanner/interface"
	"SpatialScanner/monitor"
)

// Changes is the result of reconciling one detection outcome.
type Changes struct {
	Found   []iface.DetectedObject
	Updated []iface.DetectedObject
	Lost    []int
}

func (c Changes) Empty() bool {
	return len(c.Found) == 0 && len(c.Updated) == 0 && len(c.Lost) == 0
}

// ObjectTracker keeps the last known record of every object currently in view.
type ObjectTracker struct {
	mu      sync.RWMutex
	objects map[int]iface.DetectedObject
}

func New() *ObjectTracker {
	return &ObjectTracker{objects: make(map[int]iface.DetectedObject)}
}

// Reconcile diffs objects against the tracked set and applies the diff in one step.
func (t *ObjectTracker) Reconcile(objects []iface.DetectedObject) Changes {
	// the last record wins for an id reported twice
	latest := make(map[int]iface.DetectedObject, len(objects))
	order := make([]int, 0, len(objects))
	for _, o := range objects {
		if _, seen := latest[o.ID]; !seen {
			order = append(order, o.ID)
		}
		latest[o.ID] = o
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var ch Changes
	for _, id := range order {
		o := latest[id]
		if _, ok := t.objects[id]; ok {
			ch.Updated = append(ch.Updated, o)
		} else {
			ch.Found = append(ch.Found, o)
		}
		t.objects[id] = o
	}
	for id := range t.objects {
		if _, ok := latest[id]; !ok {
			ch.Lost = append(ch.Lost, id)
		}
	}
	sort.Ints(ch.Lost)
	for _, id := range ch.Lost {
		delete(t.objects, id)
	}
	monitor.TrackedObjects.Set(float64(len(t.objects)))
	return ch
}

// Clear forgets every tracked object and returns their ids.
func (t *ObjectTracker) Clear() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := sortedIDs(t.objects)
	t.objects = make(map[int]iface.DetectedObject)
	monitor.TrackedObjects.Set(0)
	return ids
}

func (t *ObjectTracker) Get(id int) (iface.DetectedObject, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	o, ok := t.objects[id]
	return o, ok
}

func (t *ObjectTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.objects)
}

// Snapshot returns the tracked objects ordered by id.
func (t *ObjectTracker) Snapshot() []iface.DetectedObject {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]iface.DetectedObject, 0, len(t.objects))
	for _, id := range sortedIDs(t.objects) {
		out = append(out, t.objects[id])
	}
	return out
}

func sortedIDs(m map[int]iface.DetectedObject) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
