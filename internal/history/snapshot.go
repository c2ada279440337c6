package history

import "github.com/kolabdoc/collabedit/internal/ot"

// DefaultAutoSnapshotIntervalMillis is the spec §4.5 default timer period
// ("every 5 minutes") for automatic snapshots.
const DefaultAutoSnapshotIntervalMillis = 5 * 60 * 1000

// MaxAutomaticSnapshots and MaxTotalSnapshots bound snapshot retention
// (spec §4.5: "at most 10 automatic snapshots per session, 50 total").
const (
	MaxAutomaticSnapshots = 10
	MaxTotalSnapshots     = 50
)

// Snapshot is a deep copy of session state usable to restore after
// divergence or on late-join (spec §3 Snapshot).
type Snapshot struct {
	DocumentState *ot.DocumentState
	VectorClock   ot.VectorClock
	HistoryLength int
	Timestamp     int64
	Description   string
	Automatic     bool
}

// Snapshots is the append-only collection of a session's snapshots,
// evicting the oldest automatic entry first once limits are exceeded.
type Snapshots struct {
	items []Snapshot
}

// NewSnapshots returns an empty snapshot collection.
func NewSnapshots() *Snapshots {
	return &Snapshots{}
}

// Create deep-copies doc and vc into a new Snapshot and appends it,
// evicting per the automatic/total caps.
func (s *Snapshots) Create(doc *ot.DocumentState, vc ot.VectorClock, historyLen int, now int64, description string, automatic bool) Snapshot {
	snap := Snapshot{
		DocumentState: doc.Clone(),
		VectorClock:   vc.Clone(),
		HistoryLength: historyLen,
		Timestamp:     now,
		Description:   description,
		Automatic:     automatic,
	}
	s.items = append(s.items, snap)
	s.evict()
	return snap
}

func (s *Snapshots) evict() {
	for s.autoCount() > MaxAutomaticSnapshots {
		if idx := s.firstAutoIndex(); idx >= 0 {
			s.items = append(s.items[:idx], s.items[idx+1:]...)
		} else {
			break
		}
	}
	for len(s.items) > MaxTotalSnapshots {
		s.items = s.items[1:]
	}
}

func (s *Snapshots) autoCount() int {
	n := 0
	for _, it := range s.items {
		if it.Automatic {
			n++
		}
	}
	return n
}

func (s *Snapshots) firstAutoIndex() int {
	for i, it := range s.items {
		if it.Automatic {
			return i
		}
	}
	return -1
}

// Latest returns the most recently created snapshot, if any.
func (s *Snapshots) Latest() (Snapshot, bool) {
	if len(s.items) == 0 {
		return Snapshot{}, false
	}
	return s.items[len(s.items)-1], true
}

// All returns every retained snapshot in creation order.
func (s *Snapshots) All() []Snapshot {
	return s.items
}
