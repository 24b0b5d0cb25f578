package api

import "sync"

// inflightLimiter tracks concurrent requests per client IP and globally.
type inflightLimiter struct {
	mu       sync.Mutex
	inflight map[string]int
	total    int
	maxPerIP int
	maxTotal int
}

func newInflightLimiter(maxPerIP int) *inflightLimiter {
	return &inflightLimiter{
		inflight: make(map[string]int),
		maxPerIP: maxPerIP,
		maxTotal: 256, // Default global cap.
	}
}

// acquire registers a request for ip. Returns false if the IP or global
// limit has been reached.
func (l *inflightLimiter) acquire(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.total >= l.maxTotal || l.inflight[ip] >= l.maxPerIP {
		return false
	}
	l.inflight[ip]++
	l.total++
	return true
}

// release undoes one acquire for ip.
func (l *inflightLimiter) release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.total--
	if l.inflight[ip]--; l.inflight[ip] <= 0 {
		delete(l.inflight, ip)
	}
}

func (l *inflightLimiter) count(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inflight[ip]
}
