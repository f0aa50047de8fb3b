package coordinator_test

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/windowpet/companiond/api/types"
	"github.com/windowpet/companiond/internal/coordinator"
	"github.com/windowpet/companiond/internal/genai"
	"github.com/windowpet/companiond/internal/keypool"
)

// fakeClock lets the specs advance virtual time instead of sleeping through
// cooldown windows.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

// scriptedInvoker returns canned outcomes in order and tracks concurrency.
type scriptedInvoker struct {
	mu       sync.Mutex
	replies  []genai.Reply
	errs     []error
	calls    int
	inFlight int32
	maxSeen  int32
	block    chan struct{} // when non-nil, Invoke waits on it
}

func (s *scriptedInvoker) Invoke(ctx context.Context, source, system, user string) (genai.Reply, error) {
	current := atomic.AddInt32(&s.inFlight, 1)
	defer atomic.AddInt32(&s.inFlight, -1)
	for {
		max := atomic.LoadInt32(&s.maxSeen)
		if current <= max || atomic.CompareAndSwapInt32(&s.maxSeen, max, current) {
			break
		}
	}

	if s.block != nil {
		<-s.block
	}

	s.mu.Lock()
	idx := s.calls
	s.calls++
	s.mu.Unlock()

	if idx < len(s.errs) && s.errs[idx] != nil {
		return genai.Reply{}, s.errs[idx]
	}
	if idx < len(s.replies) {
		return s.replies[idx], nil
	}
	return genai.Reply{Kind: genai.ReplyPlainText, Icon: genai.DefaultIcon, Message: "ok"}, nil
}

func (s *scriptedInvoker) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func rateLimitErr() error {
	return &genai.CallError{StatusCode: http.StatusTooManyRequests, Body: "quota"}
}

// collectingListener gathers delivered messages.
type collectingListener struct {
	mu       sync.Mutex
	messages []types.OutcomeMessage
}

func (cl *collectingListener) listen(msg types.OutcomeMessage) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.messages = append(cl.messages, msg)
}

func (cl *collectingListener) all() []types.OutcomeMessage {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return append([]types.OutcomeMessage{}, cl.messages...)
}

var _ = Describe("Coordinator", func() {
	var (
		clock    *fakeClock
		invoker  *scriptedInvoker
		listener *collectingListener
	)

	newCoordinator := func() *coordinator.Coordinator {
		c := coordinator.New(coordinator.Config{
			Cooldown:          4 * time.Minute,
			EmergencyCooldown: 10 * time.Minute,
			MaxQueueSize:      10,
			Now:               clock.Now,
		}, invoker, nil)
		c.AddListener(listener.listen)
		return c
	}

	BeforeEach(func() {
		clock = newFakeClock()
		invoker = &scriptedInvoker{}
		listener = &collectingListener{}
	})

	Describe("signal handling", func() {
		It("makes one call for the first signal and delivers the outcome", func() {
			invoker.replies = []genai.Reply{{Kind: genai.ReplyStructured, Icon: "🎉", Message: "nice!"}}
			c := newCoordinator()

			c.Signal(types.SignalClipboardUpdate, nil, "clipboard-watcher")

			Eventually(listener.all).Should(HaveLen(1))
			msg := listener.all()[0]
			Expect(msg.Icon).To(Equal("🎉"))
			Expect(msg.Text).To(Equal("nice!"))
			Expect(msg.Context.Format).To(Equal(types.FormatStructured))
			Expect(msg.Context.SignalType).To(Equal(types.SignalClipboardUpdate))
			Expect(msg.Context.Source).To(Equal("clipboard-watcher"))

			stats := c.Stats()
			Expect(stats.TotalCallsMade).To(Equal(int64(1)))
			Expect(stats.LastCallAt).To(Equal(clock.Now()))
		})

		It("drops signals with unknown types", func() {
			c := newCoordinator()
			c.Signal("mystery", nil, "rogue")

			Consistently(invoker.callCount).Should(Equal(0))
			Expect(c.Stats().TotalSignalsReceived).To(Equal(int64(0)))
		})

		It("makes only one call per cooldown window and keeps the rest queued", func() {
			c := newCoordinator()

			for i := 0; i < 5; i++ {
				c.Signal(types.SignalWindowChange, nil, "window-watcher")
			}

			Eventually(listener.all).Should(HaveLen(1))
			Consistently(invoker.callCount).Should(Equal(1))
			Expect(c.Stats().QueueDepth).To(Equal(4))

			// Next window opens: exactly one more is selected.
			clock.Advance(4*time.Minute + time.Second)
			c.Poll()
			Eventually(listener.all).Should(HaveLen(2))
			Expect(c.Stats().QueueDepth).To(Equal(3))
		})

		It("never runs two generate calls concurrently", func() {
			invoker.block = make(chan struct{})
			c := newCoordinator()

			c.Signal(types.SignalClipboardUpdate, nil, "a")
			Eventually(func() int32 { return atomic.LoadInt32(&invoker.inFlight) }).Should(Equal(int32(1)))

			// Hammer the coordinator while a call is outstanding.
			for i := 0; i < 20; i++ {
				c.Signal(types.SignalWindowChange, nil, "b")
				c.Poll()
			}
			close(invoker.block)

			Eventually(listener.all).ShouldNot(BeEmpty())
			Expect(atomic.LoadInt32(&invoker.maxSeen)).To(Equal(int32(1)))
		})
	})

	Describe("failure handling", func() {
		It("serves a fallback message and enters emergency mode on a rate-limited cycle", func() {
			invoker.errs = []error{rateLimitErr()}
			c := newCoordinator()

			c.Signal(types.SignalIdleDetected, nil, "idle-detector")

			Eventually(listener.all).Should(HaveLen(1))
			msg := listener.all()[0]
			Expect(msg.Context.Format).To(Equal(types.FormatFallback))
			Expect(msg.Text).NotTo(BeEmpty())
			Expect(msg.Icon).NotTo(BeEmpty())

			Eventually(func() bool { return c.Stats().EmergencyMode }).Should(BeTrue())
		})

		It("extends the cooldown while in emergency mode", func() {
			invoker.errs = []error{rateLimitErr()}
			c := newCoordinator()

			c.Signal(types.SignalWindowChange, nil, "w")
			Eventually(func() bool { return c.Stats().EmergencyMode }).Should(BeTrue())

			c.Signal(types.SignalWindowChange, nil, "w")
			clock.Advance(5 * time.Minute) // past normal cooldown, inside emergency
			c.Poll()
			Consistently(invoker.callCount).Should(Equal(1))

			clock.Advance(6 * time.Minute) // past the 10 minute emergency window
			c.Poll()
			Eventually(invoker.callCount).Should(Equal(2))
		})

		It("auto-clears emergency mode after twice the emergency cooldown", func() {
			invoker.errs = []error{rateLimitErr()}
			c := newCoordinator()

			c.Signal(types.SignalWindowChange, nil, "w")
			Eventually(func() bool { return c.Stats().EmergencyMode }).Should(BeTrue())

			clock.Advance(20*time.Minute + time.Second)
			c.Poll()
			Expect(c.Stats().EmergencyMode).To(BeFalse())
		})

		It("does not enter emergency mode on ordinary failures", func() {
			invoker.errs = []error{&genai.CallError{StatusCode: http.StatusInternalServerError, Body: "boom"}}
			c := newCoordinator()

			c.Signal(types.SignalWindowChange, nil, "w")

			Eventually(listener.all).Should(HaveLen(1))
			Expect(listener.all()[0].Context.Format).To(Equal(types.FormatFallback))
			Expect(c.Stats().EmergencyMode).To(BeFalse())
		})

		It("clears emergency mode on the next success", func() {
			invoker.errs = []error{rateLimitErr(), nil}
			c := newCoordinator()

			c.Signal(types.SignalWindowChange, nil, "w")
			Eventually(func() bool { return c.Stats().EmergencyMode }).Should(BeTrue())

			c.Signal(types.SignalWindowChange, nil, "w")
			clock.Advance(11 * time.Minute)
			c.Poll()

			Eventually(listener.all).Should(HaveLen(2))
			Expect(c.Stats().EmergencyMode).To(BeFalse())
		})
	})

	Describe("listeners", func() {
		It("isolates a panicking listener", func() {
			c := newCoordinator()
			c.AddListener(func(types.OutcomeMessage) { panic("bad listener") })
			second := &collectingListener{}
			c.AddListener(second.listen)

			c.Signal(types.SignalClipboardUpdate, nil, "c")

			Eventually(second.all).Should(HaveLen(1))
			Eventually(listener.all).Should(HaveLen(1))
		})

		It("stops notifying removed listeners", func() {
			c := newCoordinator()
			second := &collectingListener{}
			id := c.AddListener(second.listen)
			c.RemoveListener(id)

			c.Signal(types.SignalClipboardUpdate, nil, "c")

			Eventually(listener.all).Should(HaveLen(1))
			Consistently(second.all).Should(BeEmpty())
		})

		It("records delivered messages in the history cache", func() {
			c := newCoordinator()
			c.Signal(types.SignalClipboardUpdate, nil, "c")

			Eventually(listener.all).Should(HaveLen(1))
			Eventually(func() int { return c.History().Len() }).Should(Equal(1))
			recent := c.History().Recent(10)
			Expect(recent).To(HaveLen(1))
			Expect(recent[0].ID).To(Equal(listener.all()[0].ID))
		})
	})

	Describe("with the real retry loop", func() {
		It("fails over across credentials within one cycle", func() {
			pool := keypool.New([]string{"key-0", "key-1"})
			gen := &scriptedGenerator{outcomes: []generatorOutcome{
				{err: &genai.CallError{StatusCode: http.StatusInternalServerError, Body: "boom"}},
				{text: `{"icon": "✨", "message": "second key saved the day"}`},
			}}
			inv := genai.NewInvoker(pool, gen, genai.AttemptPolicy{MaxAttempts: 4, RetryDelay: time.Millisecond}, nil)

			c := coordinator.New(coordinator.Config{Now: clock.Now}, inv, nil)
			c.AddListener(listener.listen)

			c.Signal(types.SignalClipboardUpdate, nil, "clipboard-watcher")

			Eventually(listener.all).Should(HaveLen(1))
			msg := listener.all()[0]
			Expect(msg.Context.Format).To(Equal(types.FormatStructured))
			Expect(msg.Text).To(Equal("second key saved the day"))
			Expect(gen.credentials()).To(Equal([]string{"key-0", "key-1"}))

			report := pool.Report()
			Expect(report.Credentials[0].FailCount).To(Equal(1))
			Expect(report.HealthyCount).To(Equal(2))
		})

		It("exhausts min(2N, 10) attempts on persistent rate limiting", func() {
			pool := keypool.New([]string{"key-0", "key-1"})
			gen := &scriptedGenerator{alwaysErr: &genai.CallError{StatusCode: http.StatusTooManyRequests, Body: "quota"}}
			inv := genai.NewInvoker(pool, gen, genai.PolicyForPool(pool.Size()), nil)

			c := coordinator.New(coordinator.Config{Now: clock.Now}, inv, nil)
			c.AddListener(listener.listen)

			c.Signal(types.SignalClipboardUpdate, nil, "clipboard-watcher")

			Eventually(listener.all).Should(HaveLen(1))
			Expect(listener.all()[0].Context.Format).To(Equal(types.FormatFallback))
			Expect(gen.callCount()).To(Equal(4))
			Eventually(func() bool { return c.Stats().EmergencyMode }).Should(BeTrue())
		})
	})
})

type generatorOutcome struct {
	text string
	err  error
}

// scriptedGenerator fakes the network boundary underneath the real Invoker.
type scriptedGenerator struct {
	mu        sync.Mutex
	outcomes  []generatorOutcome
	alwaysErr error
	keys      []string
	calls     int
}

func (g *scriptedGenerator) Generate(ctx context.Context, system, user, credential string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.keys = append(g.keys, credential)
	idx := g.calls
	g.calls++
	if g.alwaysErr != nil {
		return "", g.alwaysErr
	}
	if idx >= len(g.outcomes) {
		idx = len(g.outcomes) - 1
	}
	out := g.outcomes[idx]
	return out.text, out.err
}

func (g *scriptedGenerator) credentials() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string{}, g.keys...)
}

func (g *scriptedGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}
