package inference

import (
	"time"

	"go.uber.org/atomic"
)

// Stats is a snapshot of the engine performance counters.
type Stats struct {
	// Inferences is the number of completed predictions.
	Inferences int64
	// Failures is the number of failed predictions.
	Failures int64
	// Objects is the number of objects returned over all predictions.
	Objects int64
	// Total is the time spent in successful predictions.
	Total time.Duration
	// Last is the latency of the most recent successful prediction.
	Last time.Duration
}

// Average returns the mean prediction latency.
func (s Stats) Average() time.Duration {
	if s.Inferences == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Inferences)
}

// FPS returns the prediction throughput implied by the average latency.
func (s Stats) FPS() float64 {
	avg := s.Average()
	if avg <= 0 {
		return 0
	}
	return float64(time.Second) / float64(avg)
}

type counters struct {
	inferences atomic.Int64
	failures   atomic.Int64
	objects    atomic.Int64
	total      atomic.Duration
	last       atomic.Duration
}

func (c *counters) observe(d time.Duration, objects int) {
	c.inferences.Inc()
	c.objects.Add(int64(objects))
	c.total.Add(d)
	c.last.Store(d)
}

func (c *counters) snapshot() Stats {
	return Stats{
		Inferences: c.inferences.Load(),
		Failures:   c.failures.Load(),
		Objects:    c.objects.Load(),
		Total:      c.total.Load(),
		Last:       c.last.Load(),
	}
}
