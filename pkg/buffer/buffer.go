// Package buffer provides a generic bounded queue with overflow policies,
// used as the packet queue behind in-memory ports.
package buffer

// Buffer is a bounded FIFO of T. Implementations are safe for concurrent use
// by one producer and one consumer.
type Buffer[T any] interface {
	// Write appends item. A full buffer applies the overflow policy.
	Write(item T) error
	// Read removes and returns the oldest item.
	Read() (T, bool)
	// ReadBatch removes up to max items.
	ReadBatch(max int) []T
	// Peek returns the oldest item without removing it.
	Peek() (T, bool)
	Size() int
	Capacity() int
	IsFull() bool
	IsEmpty() bool
	// Clear drops every queued item, invoking the drop callback for each.
	Clear()
	Stats() *Statistics
	Close() error
}

// OverflowPolicy defines how a full buffer treats a new item.
type OverflowPolicy int

const (
	// DropOldest evicts the head of the queue.
	DropOldest OverflowPolicy = iota
	// DropNewest discards the incoming item.
	DropNewest
	// Block waits until a reader frees a slot.
	Block
)

func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	case Block:
		return "Block"
	default:
		return "Unknown"
	}
}

// ParseOverflowPolicy maps a configuration string onto a policy.
func ParseOverflowPolicy(s string) (OverflowPolicy, bool) {
	switch s {
	case "", "drop_oldest", "DropOldest":
		return DropOldest, true
	case "drop_newest", "DropNewest":
		return DropNewest, true
	case "block", "Block":
		return Block, true
	}
	return DropOldest, false
}

// DropCallback receives every item evicted by the overflow policy or Clear.
type DropCallback[T any] func(item T)

// NewCircularBuffer creates a ring buffer holding at most capacity items.
// Statistics are always collected; Prometheus export is enabled by WithMetrics.
func NewCircularBuffer[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	return newCircularBuffer(capacity, applyOptions(options...))
}
