package collector

// Mailbox is a single-slot, latest-value handoff between one producer and
// one consumer. Put never blocks; an unread value is replaced.
type Mailbox[T any] struct {
	ch chan T
}

func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{ch: make(chan T, 1)}
}

// Put stores v and reports whether an unread value was discarded.
func (m *Mailbox[T]) Put(v T) (replaced bool) {
	for {
		select {
		case m.ch <- v:
			return replaced
		default:
		}
		select {
		case <-m.ch:
			replaced = true
		default:
		}
	}
}

// C is the receive side.
func (m *Mailbox[T]) C() <-chan T {
	return m.ch
}
