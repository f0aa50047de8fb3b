// Package stats collects operational counters for the companion core. Counters
// are keyed by the signal source that triggered the work, so diagnostics can
// tell which collaborator is noisy and which is failing.
package stats

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// StatType identifies a counter. The value is the JSON key used for serialization.
type StatType string

const (
	SignalsReceived   StatType = "signals_received"
	SignalsDropped    StatType = "signals_dropped"
	SignalsRejected   StatType = "signals_rejected"
	CallsAttempted    StatType = "calls_attempted"
	CallsSucceeded    StatType = "calls_succeeded"
	CallsFailed       StatType = "calls_failed"
	RateLimitHits     StatType = "rate_limit_hits"
	FallbacksServed   StatType = "fallbacks_served"
	MessagesDelivered StatType = "messages_delivered"
	ListenerPanics    StatType = "listener_panics"
)

// AddStat is the message sent to the collector goroutine.
type AddStat struct {
	Type   StatType
	Source string
	Num    uint
}

// Stats is the stored counter state.
type Stats struct {
	BootTimeUnix      int64                        `json:"boot_time"`
	LastOperationUnix int64                        `json:"last_operation_time"`
	CurrentTimeUnix   int64                        `json:"current_time"`
	Counters          map[string]map[StatType]uint `json:"counters"`
	sync.Mutex
}

// Collector receives AddStat messages on a buffered channel and folds them
// into Stats. A single goroutine owns the updates.
type Collector struct {
	Stats *Stats
	Chan  chan AddStat
}

// StartCollector starts the collector goroutine.
func StartCollector(bufSize uint) *Collector {
	logrus.Info("Starting stats collector")

	s := &Stats{
		BootTimeUnix: time.Now().Unix(),
		Counters:     make(map[string]map[StatType]uint),
	}

	ch := make(chan AddStat, bufSize)

	go func() {
		for stat := range ch {
			s.Lock()
			s.LastOperationUnix = time.Now().Unix()
			if _, ok := s.Counters[stat.Source]; !ok {
				s.Counters[stat.Source] = make(map[StatType]uint)
			}
			s.Counters[stat.Source][stat.Type] += stat.Num
			s.Unlock()
			logrus.Debugf("Added %d to stat %s for source %s", stat.Num, stat.Type, stat.Source)
		}
	}()

	return &Collector{Stats: s, Chan: ch}
}

// Add is a convenience method to add a number to a counter. Safe to call from
// any goroutine; drops nothing as long as the channel buffer keeps up.
func (c *Collector) Add(source string, typ StatType, num uint) {
	if c == nil {
		return
	}
	c.Chan <- AddStat{Source: source, Type: typ, Num: num}
}

// Json returns the current counters as a JSON byte array.
func (c *Collector) Json() ([]byte, error) {
	c.Stats.Lock()
	defer c.Stats.Unlock()
	c.Stats.CurrentTimeUnix = time.Now().Unix()
	return json.Marshal(c.Stats)
}

// Total sums a counter across all sources.
func (c *Collector) Total(typ StatType) uint {
	c.Stats.Lock()
	defer c.Stats.Unlock()
	var total uint
	for _, counters := range c.Stats.Counters {
		total += counters[typ]
	}
	return total
}
