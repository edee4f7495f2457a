package supervisor

// message is a publish waiting for the broker.
type message struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox is a fixed-capacity FIFO of messages held while disconnected.
// When full the oldest message is overwritten. Not safe for concurrent use.
type outbox struct {
	buf     []message
	head    int // next write position
	count   int
	dropped int // messages overwritten since the last drain
}

func newOutbox(capacity int) *outbox {
	if capacity < 1 {
		capacity = 1
	}
	return &outbox{buf: make([]message, capacity)}
}

// push appends m and reports whether an older message was dropped for it.
func (o *outbox) push(m message) bool {
	n := len(o.buf)
	o.buf[o.head] = m
	o.head = (o.head + 1) % n
	if o.count == n {
		o.dropped++
		return true
	}
	o.count++
	return false
}

// drain removes and returns all held messages, oldest first, and the number
// dropped since the previous drain.
func (o *outbox) drain() ([]message, int) {
	if o.count == 0 {
		return nil, 0
	}
	n := len(o.buf)
	out := make([]message, o.count)
	start := (o.head - o.count + n) % n
	for i := range out {
		out[i] = o.buf[(start+i)%n]
	}
	dropped := o.dropped
	o.head, o.count, o.dropped = 0, 0, 0
	return out, dropped
}

func (o *outbox) len() int {
	return o.count
}
