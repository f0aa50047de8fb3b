package coordinator_test

import (
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/windowpet/companiond/api/types"
	"github.com/windowpet/companiond/internal/coordinator"
)

func sig(typ types.SignalType, id string) types.Signal {
	return types.Signal{ID: id, Type: typ, Source: "test"}
}

var _ = Describe("SignalQueue", func() {
	var q *coordinator.SignalQueue

	BeforeEach(func() {
		q = coordinator.NewSignalQueue(10)
	})

	Describe("Enqueue", func() {
		It("never exceeds the bound and evicts oldest first", func() {
			for i := 0; i < 15; i++ {
				q.Enqueue(sig(types.SignalWindowChange, fmt.Sprintf("sig-%d", i)))
			}

			Expect(q.Depth()).To(Equal(10))
			Expect(q.Dropped()).To(Equal(int64(5)))

			// sig-0..sig-4 were evicted; the priority scan walks front to
			// back, so draining LIFO should never surface an evicted ID.
			seen := map[string]bool{}
			for {
				s, ok := q.SelectNext()
				if !ok {
					break
				}
				seen[s.ID] = true
			}
			for i := 0; i < 5; i++ {
				Expect(seen).NotTo(HaveKey(fmt.Sprintf("sig-%d", i)))
			}
			for i := 5; i < 15; i++ {
				Expect(seen).To(HaveKey(fmt.Sprintf("sig-%d", i)))
			}
		})

		It("reports whether an eviction happened", func() {
			small := coordinator.NewSignalQueue(2)
			Expect(small.Enqueue(sig(types.SignalWindowChange, "a"))).To(BeFalse())
			Expect(small.Enqueue(sig(types.SignalWindowChange, "b"))).To(BeFalse())
			Expect(small.Enqueue(sig(types.SignalWindowChange, "c"))).To(BeTrue())
		})
	})

	Describe("SelectNext", func() {
		It("returns false on an empty queue", func() {
			_, ok := q.SelectNext()
			Expect(ok).To(BeFalse())
		})

		It("prefers priority types regardless of arrival order", func() {
			q.Enqueue(sig(types.SignalWindowChange, "w-1"))
			q.Enqueue(sig(types.SignalClipboardUpdate, "c-1"))
			q.Enqueue(sig(types.SignalIdleDetected, "i-1"))
			q.Enqueue(sig(types.SignalWindowChange, "w-2"))

			s, ok := q.SelectNext()
			Expect(ok).To(BeTrue())
			Expect(s.ID).To(Equal("i-1"))
		})

		It("is FIFO among priority signals", func() {
			q.Enqueue(sig(types.SignalActivitySpike, "a-1"))
			q.Enqueue(sig(types.SignalIdleDetected, "i-1"))

			s, _ := q.SelectNext()
			Expect(s.ID).To(Equal("a-1"))
			s, _ = q.SelectNext()
			Expect(s.ID).To(Equal("i-1"))
		})

		It("is LIFO for ordinary signals", func() {
			q.Enqueue(sig(types.SignalWindowChange, "w-1"))
			q.Enqueue(sig(types.SignalClipboardUpdate, "c-1"))
			q.Enqueue(sig(types.SignalWeatherUpdate, "we-1"))

			s, _ := q.SelectNext()
			Expect(s.ID).To(Equal("we-1"))
		})

		It("leaves non-selected signals queued", func() {
			q.Enqueue(sig(types.SignalWindowChange, "w-1"))
			q.Enqueue(sig(types.SignalIdleDetected, "i-1"))
			q.Enqueue(sig(types.SignalClipboardUpdate, "c-1"))

			_, _ = q.SelectNext()
			Expect(q.Depth()).To(Equal(2))
		})
	})
})
