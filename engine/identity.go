package engine

import (
	"sort"
	"sync"

	iface "SpatialScanner/interface"
)

const (
	DefaultIoUThreshold = 0.3
	DefaultMaxMisses    = 3
)

type identityTrack struct {
	id     int
	label  string
	box    iface.Box
	misses int
}

// IdentityTracker gives raw detections identifiers that stay stable while the same
// physical object keeps appearing in consecutive results.
type IdentityTracker struct {
	mu           sync.Mutex
	tracks       []*identityTrack
	nextID       int
	IoUThreshold float64
	MaxMisses    int
}

func NewIdentityTracker(iouThreshold float64, maxMisses int) *IdentityTracker {
	if iouThreshold <= 0 || iouThreshold > 1 {
		iouThreshold = DefaultIoUThreshold
	}
	if maxMisses < 0 {
		maxMisses = DefaultMaxMisses
	}
	return &IdentityTracker{IoUThreshold: iouThreshold, MaxMisses: maxMisses, nextID: 1}
}

type candidate struct {
	track, det int
	iou        float64
}

// Assign matches detections to existing tracks greedily by IoU (same label only)
// and returns them as identified objects, in input order.
func (t *IdentityTracker) Assign(raws []iface.RawDetection) []iface.DetectedObject {
	t.mu.Lock()
	defer t.mu.Unlock()

	var cands []candidate
	for ti, tr := range t.tracks {
		for di, d := range raws {
			if d.Label != tr.label {
				continue
			}
			iou := tr.box.IoU(d.Box)
			if iou >= t.IoUThreshold {
				cands = append(cands, candidate{track: ti, det: di, iou: iou})
			}
		}
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].iou > cands[j].iou })

	trackUsed := make([]bool, len(t.tracks))
	detTrack := make([]int, len(raws))
	for i := range detTrack {
		detTrack[i] = -1
	}
	for _, c := range cands {
		if trackUsed[c.track] || detTrack[c.det] >= 0 {
			continue
		}
		trackUsed[c.track] = true
		detTrack[c.det] = c.track
	}

	out := make([]iface.DetectedObject, 0, len(raws))
	kept := make([]*identityTrack, 0, len(t.tracks)+len(raws))
	for ti, tr := range t.tracks {
		if trackUsed[ti] {
			continue
		}
		tr.misses++
		if tr.misses <= t.MaxMisses {
			kept = append(kept, tr)
		}
	}
	for di, d := range raws {
		var tr *identityTrack
		if ti := detTrack[di]; ti >= 0 {
			tr = t.tracks[ti]
			tr.box = d.Box
			tr.misses = 0
		} else {
			tr = &identityTrack{id: t.nextID, label: d.Label, box: d.Box}
			t.nextID++
		}
		kept = append(kept, tr)
		out = append(out, iface.DetectedObject{
			ID:         tr.id,
			Label:      d.Label,
			Confidence: d.Confidence,
			Box:        d.Box,
			Center:     d.Box.Center(),
		})
	}
	t.tracks = kept
	return out
}

// Reset forgets all tracks. Identifiers keep increasing.
func (t *IdentityTracker) Reset() {
	t.mu.Lock()
	t.tracks = nil
	t.mu.Unlock()
}
