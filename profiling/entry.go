package profiling

// HeapCapacity is the heap size, in bytes, available to a profiled execution
// context. It must match the heap size the host hands to guest programs.
const HeapCapacity uint64 = 32_000

// ActiveEntry is a section that has been started but not yet ended.
type ActiveEntry struct {
	ID            string `json:"id" yaml:"id"`
	StartCU       uint64 `json:"startCU" yaml:"start_cu"`
	StartSequence uint64 `json:"startSequence" yaml:"start_sequence"`

	// StartHeap is only meaningful when HeapTracked is set.
	StartHeap   uint64 `json:"startHeap,omitempty" yaml:"start_heap,omitempty"`
	HeapTracked bool   `json:"heapTracked" yaml:"heap_tracked"`
}

// HeapMetrics is the heap usage of a completed section.
type HeapMetrics struct {
	StartHeap uint64 `json:"startHeap" yaml:"start_heap"`
	EndHeap   uint64 `json:"endHeap" yaml:"end_heap"`
	TotalHeap uint64 `json:"totalHeap" yaml:"total_heap"`
	// NetHeap is zero until PostProcess runs.
	NetHeap       uint64 `json:"netHeap" yaml:"net_heap"`
	RemainingHeap uint64 `json:"remainingHeap" yaml:"remaining_heap"`
}

// CompletedEntry is a section whose end has been matched to its start.
type CompletedEntry struct {
	ID            string `json:"id" yaml:"id"`
	StartCU       uint64 `json:"startCU" yaml:"start_cu"`
	EndCU         uint64 `json:"endCU" yaml:"end_cu"`
	StartSequence uint64 `json:"startSequence" yaml:"start_sequence"`
	EndSequence   uint64 `json:"endSequence" yaml:"end_sequence"`
	TotalCU       uint64 `json:"totalCU" yaml:"total_cu"`
	// NetCU is zero until PostProcess runs.
	NetCU uint64 `json:"netCU" yaml:"net_cu"`
	// RemainingCU is the budget that was available when the section started.
	RemainingCU uint64 `json:"remainingCU" yaml:"remaining_cu"`

	// Heap is nil unless heap accounting was requested at both ends.
	Heap *HeapMetrics `json:"heap,omitempty" yaml:"heap,omitempty"`
}

// Contains reports whether [other] is strictly nested inside [e] by sequence
// number. Overlapping sections where neither encloses the other are not
// nested.
func (e *CompletedEntry) Contains(other *CompletedEntry) bool {
	return other.StartSequence > e.StartSequence && other.EndSequence < e.EndSequence
}
