package cache

// ring is a fixed-capacity FIFO message buffer. Appending at capacity
// overwrites the oldest entry. Not safe for concurrent use on its own;
// callers hold the cache lock.
type ring struct {
	buf   []Message
	head  int // index of the oldest entry
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Message, capacity)}
}

func (r *ring) append(m Message) {
	if r.count < len(r.buf) {
		r.buf[(r.head+r.count)%len(r.buf)] = m
		r.count++
		return
	}
	r.buf[r.head] = m
	r.head = (r.head + 1) % len(r.buf)
}

// snapshot copies the buffered messages out in chronological order.
func (r *ring) snapshot() []Message {
	out := make([]Message, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

func (r *ring) len() int { return r.count }

func (r *ring) clear() {
	for i := range r.buf {
		r.buf[i] = Message{}
	}
	r.head = 0
	r.count = 0
}
