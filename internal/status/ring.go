package status

// DefaultLogCapacity is the number of lines the operator log keeps.
const DefaultLogCapacity = 100

// LogRing is a fixed-capacity FIFO of log lines. When full, an append
// evicts the oldest line. It is not safe for concurrent use on its own;
// Record guards it together with the status fields.
type LogRing struct {
	buf   []string
	start int
	size  int
}

// NewLogRing creates a ring holding at most capacity lines
func NewLogRing(capacity int) *LogRing {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &LogRing{buf: make([]string, capacity)}
}

// Append adds a line, evicting the oldest one when the ring is full
func (r *LogRing) Append(line string) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = line
		r.size++
		return
	}
	r.buf[r.start] = line
	r.start = (r.start + 1) % len(r.buf)
}

// Lines returns a copy of the stored lines, oldest first
func (r *LogRing) Lines() []string {
	out := make([]string, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// Len returns the number of stored lines
func (r *LogRing) Len() int {
	return r.size
}

// Cap returns the ring capacity
func (r *LogRing) Cap() int {
	return len(r.buf)
}

// Clear drops every stored line
func (r *LogRing) Clear() {
	for i := range r.buf {
		r.buf[i] = ""
	}
	r.start = 0
	r.size = 0
}
