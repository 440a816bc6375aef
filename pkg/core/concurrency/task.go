package concurrency

// WorkItem is a deferred, self-contained unit of work submitted to a WorkerPool.
// It captures whatever state it needs (e.g. a connection) and returns nothing.
// Failures inside a WorkItem are the WorkItem's own business: the pool never
// inspects or recovers them.
type WorkItem func()

// MessageKind tags the variant carried by a Message
type MessageKind uint8

const (
	// KindRun carries a WorkItem to execute
	KindRun MessageKind = iota + 1
	// KindStop asks the receiving worker to terminate
	KindStop
)

func (k MessageKind) String() string {
	switch k {
	case KindRun:
		return "run"
	case KindStop:
		return "stop"
	default:
		return "unknown"
	}
}

// Message is the queue's transport envelope: either Run(WorkItem) or Stop.
// Fields are unexported so a Message cannot change after construction.
type Message struct {
	kind   MessageKind
	item   WorkItem
	onDrop func()
}

// RunMessage wraps a WorkItem for delivery to a worker
func RunMessage(item WorkItem) Message {
	return Message{kind: KindRun, item: item}
}

// RunMessageWithDrop is RunMessage plus a callback that runs in place of item
// if the message is discarded without ever reaching a worker.
func RunMessageWithDrop(item WorkItem, onDrop func()) Message {
	return Message{kind: KindRun, item: item, onDrop: onDrop}
}

// StopMessage builds the termination signal
func StopMessage() Message {
	return Message{kind: KindStop}
}

// Kind returns the message variant
func (m Message) Kind() MessageKind {
	return m.kind
}

// Item returns the carried WorkItem (nil for Stop)
func (m Message) Item() WorkItem {
	return m.item
}

// drop runs the message's drop callback, if any
func (m Message) drop() {
	if m.onDrop != nil {
		m.onDrop()
	}
}
