package profiling

// State reconstructs nested profiling sections from an ordered stream of
// start and end events and attributes compute and heap usage to them.
//
// A State belongs to a single execution session. It performs no locking;
// the host must serialize calls in the order the guest issued them.
type State struct {
	// Open sections, most recently started last. Several entries may share
	// an ID.
	active []ActiveEntry

	// Closed sections in the order they ended.
	completed []CompletedEntry

	// Shared by starts and ends. Compute and heap readings can't order
	// events because free operations leave them unchanged.
	nextSequence uint64
}

func New() *State {
	return &State{}
}

// Start opens a section named [id]. [heapValue] is recorded only if
// [withHeap] is set.
func (s *State) Start(id string, currentCU uint64, heapValue uint64, withHeap bool) {
	entry := ActiveEntry{
		ID:            id,
		StartCU:       currentCU,
		StartSequence: s.nextSequence,
	}
	if withHeap {
		entry.StartHeap = heapValue
		entry.HeapTracked = true
	}

	s.active = append(s.active, entry)
	s.nextSequence++
}

// End closes the most recently started open section named [id]. Sections
// started after it stay open.
func (s *State) End(id string, currentCU uint64, heapValue uint64, withHeap bool) error {
	pos := s.lastActive(id)
	if pos < 0 {
		return &UnmatchedEndError{ID: id}
	}

	start := s.active[pos]
	s.active = append(s.active[:pos], s.active[pos+1:]...)

	entry := CompletedEntry{
		ID:            start.ID,
		StartCU:       start.StartCU,
		EndCU:         currentCU,
		StartSequence: start.StartSequence,
		EndSequence:   s.nextSequence,
		TotalCU:       satSub(start.StartCU, currentCU),
		RemainingCU:   start.StartCU,
	}
	if start.HeapTracked && withHeap {
		entry.Heap = &HeapMetrics{
			StartHeap:     start.StartHeap,
			EndHeap:       heapValue,
			TotalHeap:     satSub(heapValue, start.StartHeap),
			RemainingHeap: satSub(HeapCapacity, start.StartHeap),
		}
	}

	s.completed = append(s.completed, entry)
	s.nextSequence++
	return nil
}

func (s *State) lastActive(id string) int {
	for i := len(s.active) - 1; i >= 0; i-- {
		if s.active[i].ID == id {
			return i
		}
	}
	return -1
}

// PostProcess fills in NetCU and NetHeap for every completed section by
// subtracting the totals of the sections it strictly contains. It only reads
// totals and sequence numbers, so calling it again yields the same result.
func (s *State) PostProcess() {
	for i := range s.completed {
		parent := &s.completed[i]

		var childrenCU, childrenHeap uint64
		for j := range s.completed {
			child := &s.completed[j]
			if !parent.Contains(child) {
				continue
			}
			childrenCU = satAdd(childrenCU, child.TotalCU)
			if child.Heap != nil {
				childrenHeap = satAdd(childrenHeap, child.Heap.TotalHeap)
			}
		}

		parent.NetCU = satSub(parent.TotalCU, childrenCU)
		if parent.Heap != nil {
			parent.Heap.NetHeap = satSub(parent.Heap.TotalHeap, childrenHeap)
		}
	}
}

// Completed returns the closed sections in the order they ended. The slice
// is owned by the State and is invalidated by Clear.
func (s *State) Completed() []CompletedEntry {
	return s.completed
}

// Active returns the open sections, oldest first.
func (s *State) Active() []ActiveEntry {
	return s.active
}

func (s *State) HasActive() bool {
	return len(s.active) > 0
}

func (s *State) CompletedCount() int {
	return len(s.completed)
}

func (s *State) NextSequence() uint64 {
	return s.nextSequence
}

// Clear discards every section and restarts sequence numbering at zero.
func (s *State) Clear() {
	s.active = nil
	s.completed = nil
	s.nextSequence = 0
}
