package stream

import (
	"errors"
	"sync"
)

var (
	errPerIPLimit  = errors.New("per-client stream limit reached")
	errGlobalLimit = errors.New("global stream limit reached")
)

// rejectReason maps a limiter error to the metrics label.
func rejectReason(err error) string {
	if errors.Is(err, errGlobalLimit) {
		return "global_limit"
	}
	return "ip_limit"
}

// connLimiter caps concurrent snapshot streams per client address and overall.
type connLimiter struct {
	mu       sync.Mutex
	perIP    map[string]int
	total    int
	maxPerIP int
	maxTotal int
}

func newConnLimiter(maxPerIP, maxTotal int) *connLimiter {
	return &connLimiter{
		perIP:    make(map[string]int),
		maxPerIP: maxPerIP,
		maxTotal: maxTotal,
	}
}

// acquire reserves a slot for ip. The returned release func is idempotent.
func (l *connLimiter) acquire(ip string) (release func(), err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.total >= l.maxTotal {
		return nil, errGlobalLimit
	}
	if l.perIP[ip] >= l.maxPerIP {
		return nil, errPerIPLimit
	}
	l.perIP[ip]++
	l.total++

	var once sync.Once
	return func() { once.Do(func() { l.release(ip) }) }, nil
}

func (l *connLimiter) release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.total--
	if l.perIP[ip]--; l.perIP[ip] <= 0 {
		delete(l.perIP, ip)
	}
}

// usage reports the open streams for ip and across all clients.
func (l *connLimiter) usage(ip string) (forIP, total int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.perIP[ip], l.total
}
