package mqtt

// message is a serialized publish waiting for the broker.
type message struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// backlog holds messages produced while the broker is unreachable. When full
// the oldest message is overwritten. Not safe for concurrent use.
type backlog struct {
	slots []message
	next  int
	size  int
	lost  uint64
}

func newBacklog(capacity int) *backlog {
	if capacity < 1 {
		capacity = 1
	}
	return &backlog{slots: make([]message, capacity)}
}

// add stores msg and reports whether an older message was overwritten.
func (b *backlog) add(msg message) (overwrote bool) {
	b.slots[b.next] = msg
	b.next = (b.next + 1) % len(b.slots)
	if b.size == len(b.slots) {
		b.lost++
		return true
	}
	b.size++
	return false
}

// take removes and returns every stored message, oldest first.
func (b *backlog) take() []message {
	if b.size == 0 {
		return nil
	}
	out := make([]message, 0, b.size)
	first := (b.next - b.size + len(b.slots)) % len(b.slots)
	for i := 0; i < b.size; i++ {
		j := (first + i) % len(b.slots)
		out = append(out, b.slots[j])
		b.slots[j] = message{}
	}
	b.next, b.size = 0, 0
	return out
}

func (b *backlog) len() int { return b.size }

// overwritten is the number of messages lost to overflow since creation.
func (b *backlog) overwritten() uint64 { return b.lost }
