package supervisor

import "sync"

// ring is a fixed-capacity line buffer. Appends are O(1); a growing slice
// would degrade under high-frequency worker output.
type ring struct {
	mu    sync.Mutex
	buf   []string
	next  int
	count int
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = 300
	}
	return &ring{buf: make([]string, capacity)}
}

func (r *ring) push(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = line
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// last snapshots up to n most recent lines, oldest first. n <= 0 means all.
func (r *ring) last(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]string, 0, n)
	start := r.next - n
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < n; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

func (r *ring) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
