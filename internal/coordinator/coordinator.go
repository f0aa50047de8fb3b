// Package coordinator decouples a noisy stream of trigger signals from a
// rate-limited, fallible external text-generation call. At most one generate
// call is ever in flight; one signal is selected per eligible cooldown
// window; listeners always receive a result, AI-generated or canned.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/windowpet/companiond/api/types"
	"github.com/windowpet/companiond/internal/genai"
	"github.com/windowpet/companiond/internal/stats"
)

// Default timings.
const (
	DefaultCooldown          = 4 * time.Minute
	DefaultEmergencyCooldown = 10 * time.Minute
	DefaultTickInterval      = 30 * time.Second
)

// Invoker runs one guarded generate cycle. *genai.Invoker implements it;
// tests substitute fakes.
type Invoker interface {
	Invoke(ctx context.Context, source, systemInstruction, userQuery string) (genai.Reply, error)
}

// Listener receives one OutcomeMessage per completed cycle. A panicking
// listener is isolated; the rest are still notified.
type Listener func(types.OutcomeMessage)

// Config carries the coordinator knobs. The zero value of every field falls
// back to the defaults above. Now is the injected clock; tests use it to
// advance virtual time instead of sleeping.
type Config struct {
	Cooldown          time.Duration
	EmergencyCooldown time.Duration
	MaxQueueSize      int
	TickInterval      time.Duration
	City              string
	HistorySize       int
	HistoryMaxAge     time.Duration
	Now               func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.EmergencyCooldown <= 0 {
		c.EmergencyCooldown = DefaultEmergencyCooldown
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = DefaultMaxQueueSize
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Coordinator is the interaction scheduler. Construct exactly one per
// process in the composition root; tests construct their own.
type Coordinator struct {
	cfg     Config
	invoker Invoker
	stats   *stats.Collector
	queue   *SignalQueue
	history *MessageHistory

	mu             sync.Mutex
	inFlight       bool
	lastCallAt     time.Time
	emergency      bool
	emergencySince time.Time
	totalSignals   int64
	totalCalls     int64

	lmu            sync.Mutex
	listeners      map[int64]Listener
	nextListenerID int64
}

// New wires a coordinator. The stats collector may be nil.
func New(cfg Config, invoker Invoker, collector *stats.Collector) *Coordinator {
	cfg = cfg.withDefaults()
	return &Coordinator{
		cfg:       cfg,
		invoker:   invoker,
		stats:     collector,
		queue:     NewSignalQueue(cfg.MaxQueueSize),
		history:   NewMessageHistory(cfg.HistorySize, cfg.HistoryMaxAge),
		listeners: make(map[int64]Listener),
	}
}

// Signal enqueues one trigger event and, if the cooldown gate is already
// open, starts a cycle. It never blocks on the external call and never
// returns an error to the collaborator; invalid input is counted and dropped.
func (c *Coordinator) Signal(typ types.SignalType, payload types.SignalPayload, source string) {
	if !typ.IsValid() {
		logrus.Warnf("Dropping signal with unknown type %q from %s", typ, source)
		c.stats.Add(source, stats.SignalsRejected, 1)
		return
	}

	sig := types.Signal{
		ID:        uuid.New().String(),
		Type:      typ,
		Payload:   payload,
		Source:    source,
		Timestamp: c.cfg.Now(),
	}

	if c.queue.Enqueue(sig) {
		c.stats.Add(source, stats.SignalsDropped, 1)
		logrus.Debug("Signal queue full, oldest signal evicted")
	}
	c.stats.Add(source, stats.SignalsReceived, 1)

	c.mu.Lock()
	c.totalSignals++
	c.mu.Unlock()

	c.tryDispatch()
}

// Run drives the background tick until ctx is cancelled. The tick re-checks
// the cooldown gate for signals that queued up while it was closed and
// auto-clears emergency mode once it has been quiet long enough.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Coordinator tick loop stopped")
			return
		case <-ticker.C:
			c.Poll()
		}
	}
}

// Poll performs one tick: clears a stale emergency flag, then re-attempts
// selection against whatever is queued. Exported so tests and embedders can
// drive time deterministically without the ticker.
func (c *Coordinator) Poll() {
	c.mu.Lock()
	if c.emergency && c.cfg.Now().Sub(c.emergencySince) >= 2*c.cfg.EmergencyCooldown {
		logrus.Info("Emergency mode auto-cleared after quiet period")
		c.emergency = false
	}
	c.mu.Unlock()

	c.tryDispatch()
}

// tryDispatch opens the gate if it can: no call in flight, cooldown elapsed,
// something queued. The claim happens under the lock, so concurrent signal
// delivery can never start a second cycle.
func (c *Coordinator) tryDispatch() {
	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return
	}

	now := c.cfg.Now()
	if !c.lastCallAt.IsZero() && now.Sub(c.lastCallAt) < c.currentCooldownLocked() {
		c.mu.Unlock()
		return
	}

	sig, ok := c.queue.SelectNext()
	if !ok {
		c.mu.Unlock()
		return
	}

	c.inFlight = true
	c.lastCallAt = now
	c.totalCalls++
	c.mu.Unlock()

	go c.execute(sig)
}

// execute runs one CallInFlight cycle for the selected signal. In-flight
// calls are not cancelled; the HTTP client timeout is the bound that
// eventually releases the gate.
func (c *Coordinator) execute(sig types.Signal) {
	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
	}()

	pc := BuildPromptContext(sig, c.cfg.City, c.cfg.Now())
	reply, err := c.invoker.Invoke(context.Background(), sig.Source, systemInstruction, pc.UserQuery())

	msg := types.OutcomeMessage{
		ID:        uuid.New().String(),
		Timestamp: c.cfg.Now(),
		Context: types.MessageContext{
			SignalType: sig.Type,
			Source:     sig.Source,
		},
	}

	if err != nil {
		if genai.IsRateLimited(err) {
			c.mu.Lock()
			c.emergency = true
			c.emergencySince = c.cfg.Now()
			c.mu.Unlock()
			logrus.Warnf("Entering emergency mode after rate-limited cycle: %v", err)
		} else {
			logrus.Warnf("Generate cycle failed: %v", err)
		}

		msg.Icon, msg.Text = fallbackFor(sig)
		msg.Context.Format = types.FormatFallback
		c.stats.Add(sig.Source, stats.FallbacksServed, 1)
		c.publish(msg)
		return
	}

	c.mu.Lock()
	c.emergency = false
	c.mu.Unlock()

	msg.Icon = reply.Icon
	msg.Text = reply.Message
	msg.Context.Format = types.FormatPlainText
	if reply.Kind == genai.ReplyStructured {
		msg.Context.Format = types.FormatStructured
	}
	c.publish(msg)
}

// publish records the message and fans it out to every listener.
func (c *Coordinator) publish(msg types.OutcomeMessage) {
	c.history.Add(msg)

	c.lmu.Lock()
	targets := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		targets = append(targets, l)
	}
	c.lmu.Unlock()

	for _, l := range targets {
		c.notify(l, msg)
	}
	c.stats.Add(msg.Context.Source, stats.MessagesDelivered, 1)
}

func (c *Coordinator) notify(l Listener, msg types.OutcomeMessage) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("Listener panicked, continuing with the rest: %v", r)
			c.stats.Add(msg.Context.Source, stats.ListenerPanics, 1)
		}
	}()
	l(msg)
}

// AddListener registers a listener and returns its handle.
func (c *Coordinator) AddListener(l Listener) int64 {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	c.nextListenerID++
	id := c.nextListenerID
	c.listeners[id] = l
	return id
}

// RemoveListener unregisters the listener with the given handle.
func (c *Coordinator) RemoveListener(id int64) {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	delete(c.listeners, id)
}

// History exposes the recent-message cache for the HTTP layer.
func (c *Coordinator) History() *MessageHistory {
	return c.history
}

// Stats returns a snapshot of coordinator state. Pure read.
func (c *Coordinator) Stats() types.CoordinatorStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.cfg.Now()
	cooldownActive := c.inFlight ||
		(!c.lastCallAt.IsZero() && now.Sub(c.lastCallAt) < c.currentCooldownLocked())

	return types.CoordinatorStats{
		TotalSignalsReceived: c.totalSignals,
		TotalSignalsDropped:  c.queue.Dropped(),
		TotalCallsMade:       c.totalCalls,
		QueueDepth:           c.queue.Depth(),
		CooldownActive:       cooldownActive,
		EmergencyMode:        c.emergency,
		LastCallAt:           c.lastCallAt,
	}
}

// currentCooldownLocked returns the active cooldown window. Callers hold mu.
func (c *Coordinator) currentCooldownLocked() time.Duration {
	if c.emergency {
		return c.cfg.EmergencyCooldown
	}
	return c.cfg.Cooldown
}
