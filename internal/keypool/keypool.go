// Package keypool maintains a fixed set of API credentials and hands out the
// best one to try next, tracking per-credential health so failing keys are
// avoided without ever starving callers of a usable key.
package keypool

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/windowpet/companiond/api/types"
)

const (
	// DefaultMaxFailCount is how many consecutive failures mark a
	// credential unhealthy.
	DefaultMaxFailCount = 3
	// DefaultHealthCheckCooldown is how long an unhealthy credential sits
	// out before it becomes eligible for a retry probe.
	DefaultHealthCheckCooldown = 5 * time.Minute
)

// Credential is one API key plus its health bookkeeping. Mutated in place by
// the pool; never destroyed during the process lifetime.
type Credential struct {
	Key                string
	FailCount          int
	LastFailureAt      time.Time
	LastError          string
	Healthy            bool
	LastResponseTimeMs int64
}

// Pool owns the credential set. All index mutations are serialized so the
// pool is safe to drive from multiple goroutines, even though the coordinator
// is the only expected caller.
type Pool struct {
	mu          sync.Mutex
	credentials []*Credential
	cursor      int

	maxFailCount   int
	healthCooldown time.Duration
	now            func() time.Time
}

// Option adjusts pool construction.
type Option func(*Pool)

// WithMaxFailCount overrides the failure threshold.
func WithMaxFailCount(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.maxFailCount = n
		}
	}
}

// WithHealthCheckCooldown overrides how long unhealthy keys sit out.
func WithHealthCheckCooldown(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.healthCooldown = d
		}
	}
}

// WithClock injects a time source. Tests use this to advance virtual time.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) {
		if now != nil {
			p.now = now
		}
	}
}

// New creates a pool from an ordered, non-empty list of secrets.
func New(keys []string, opts ...Option) *Pool {
	p := &Pool{
		maxFailCount:   DefaultMaxFailCount,
		healthCooldown: DefaultHealthCheckCooldown,
		now:            time.Now,
	}
	for _, key := range keys {
		p.credentials = append(p.credentials, &Credential{Key: key, Healthy: true})
	}
	for _, opt := range opts {
		opt(p)
	}
	logrus.Infof("Key pool initialized with %d credential(s)", len(p.credentials))
	return p
}

// Size returns the number of credentials in the pool.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.credentials)
}

// Next returns the key to try next and its index. Starting at the round-robin
// cursor it scans every credential and returns the first that is healthy or
// whose last failure is older than the health-check cooldown (a cooled-down
// key gets a retry probe). If nothing qualifies, every credential is force
// reset to healthy and the scan start is returned. Never blocks, never fails.
func (p *Pool) Next() (string, int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	n := len(p.credentials)
	for i := 0; i < n; i++ {
		idx := (p.cursor + i) % n
		c := p.credentials[idx]
		if c.Healthy || now.Sub(c.LastFailureAt) > p.healthCooldown {
			p.cursor = (idx + 1) % n
			return c.Key, idx
		}
	}

	// Every credential is unhealthy and still cooling down. Resetting them
	// all keeps the system making attempts instead of going dark.
	logrus.Warn("All credentials unhealthy and cooling down, forcing pool reset")
	for _, c := range p.credentials {
		c.Healthy = true
		c.FailCount = 0
	}
	idx := p.cursor % n
	p.cursor = (idx + 1) % n
	return p.credentials[idx].Key, idx
}

// RecordSuccess marks the credential at idx healthy and stores the observed
// response time.
func (p *Pool) RecordSuccess(idx int, responseTimeMs int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx < 0 || idx >= len(p.credentials) {
		return
	}
	c := p.credentials[idx]
	c.Healthy = true
	c.FailCount = 0
	c.LastFailureAt = time.Time{}
	c.LastError = ""
	c.LastResponseTimeMs = responseTimeMs
	logrus.Debugf("Credential %d succeeded in %dms", idx, responseTimeMs)
}

// RecordFailure counts a failure against the credential at idx and marks it
// unhealthy once the failure threshold is reached. Never panics.
func (p *Pool) RecordFailure(idx int, errDescription string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx < 0 || idx >= len(p.credentials) {
		return
	}
	c := p.credentials[idx]
	c.FailCount++
	c.LastFailureAt = p.now()
	c.LastError = errDescription
	if c.FailCount >= p.maxFailCount {
		c.Healthy = false
		logrus.Warnf("Credential %d marked unhealthy after %d failure(s): %s", idx, c.FailCount, errDescription)
	} else {
		logrus.Debugf("Credential %d failure %d/%d: %s", idx, c.FailCount, p.maxFailCount, errDescription)
	}
}

// Report returns a snapshot of pool health. Pure read.
func (p *Pool) Report() types.KeyPoolReport {
	p.mu.Lock()
	defer p.mu.Unlock()

	report := types.KeyPoolReport{TotalCount: len(p.credentials)}
	for _, c := range p.credentials {
		if c.Healthy {
			report.HealthyCount++
		}
		report.Credentials = append(report.Credentials, types.CredentialStatus{
			Fingerprint:        fingerprint(c.Key),
			Healthy:            c.Healthy,
			FailCount:          c.FailCount,
			LastFailureAt:      c.LastFailureAt,
			LastError:          c.LastError,
			LastResponseTimeMs: c.LastResponseTimeMs,
		})
	}
	return report
}

// fingerprint masks a secret down to its first and last two characters so
// reports never leak key material.
func fingerprint(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return key[:2] + "..." + key[len(key)-2:]
}
