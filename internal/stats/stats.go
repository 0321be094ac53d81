package stats

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wegman-software/vtpipe/internal/logger"
)

// Stats collects counters, gauges, stage timers and data-error tallies from
// the pipeline. Implementations are best-effort: nothing the pipeline does
// may depend on what a Stats implementation records.
type Stats interface {
	// DataError records that an invalid input feature or post-process result
	// was discarded; errorCode identifies the kind of failure.
	DataError(errorCode string)

	// EmittedFeatures records features rendered to an output layer at a zoom.
	EmittedFeatures(zoom int, layer string, numFeatures int)

	// WroteTile records that an encoded tile of the given size was written.
	WroteTile(zoom int, bytes int)

	// LongCounter returns a named counter safe to increment from any
	// goroutine.
	LongCounter(name string) *Counter

	// Gauge tracks a named value sampled when the summary prints.
	Gauge(name string, value func() float64)

	// StartStage marks the beginning of a named long-running stage and
	// returns a function to call when it finishes.
	StartStage(name string) func()

	// PrintSummary logs everything collected so far.
	PrintSummary()
}

// Counter is a monotonically increasing stat counter.
type Counter struct {
	v atomic.Int64
}

// Inc adds 1 to the counter.
func (c *Counter) Inc() { c.v.Add(1) }

// Add adds n to the counter.
func (c *Counter) Add(n int64) { c.v.Add(n) }

// Get returns the current value.
func (c *Counter) Get() int64 { return c.v.Load() }

// InMemory returns a Stats that keeps everything in memory and reports it
// through PrintSummary.
func InMemory() Stats {
	return &inMemory{
		counters: map[string]*Counter{},
		gauges:   map[string]func() float64{},
		timers:   map[string]time.Duration{},
	}
}

type inMemory struct {
	mu       sync.Mutex
	counters map[string]*Counter
	gauges   map[string]func() float64
	timers   map[string]time.Duration
}

func (s *inMemory) DataError(errorCode string) {
	s.LongCounter("data_errors_" + errorCode).Inc()
}

func (s *inMemory) EmittedFeatures(zoom int, layer string, numFeatures int) {
	s.LongCounter("emitted_features_" + layer).Add(int64(numFeatures))
}

func (s *inMemory) WroteTile(zoom int, bytes int) {
	s.LongCounter("tiles_written").Inc()
	s.LongCounter("tile_bytes").Add(int64(bytes))
}

func (s *inMemory) LongCounter(name string) *Counter {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[name]
	if !ok {
		c = &Counter{}
		s.counters[name] = c
	}
	return c
}

func (s *inMemory) Gauge(name string, value func() float64) {
	s.mu.Lock()
	s.gauges[name] = value
	s.mu.Unlock()
}

func (s *inMemory) StartStage(name string) func() {
	log := logger.Get()
	log.Info("Starting stage", zap.String("stage", name))
	start := time.Now()
	return func() {
		elapsed := time.Since(start)
		s.mu.Lock()
		s.timers[name] += elapsed
		s.mu.Unlock()
		log.Info("Finished stage", zap.String("stage", name), zap.Duration("took", elapsed))
	}
}

func (s *inMemory) PrintSummary() {
	log := logger.Get()
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.timers))
	for name := range s.timers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		log.Info("Stage time", zap.String("stage", name), zap.Duration("took", s.timers[name]))
	}

	names = names[:0]
	for name := range s.counters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		log.Info("Counter", zap.String("name", name), zap.Int64("value", s.counters[name].Get()))
	}

	names = names[:0]
	for name := range s.gauges {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		log.Info("Gauge", zap.String("name", name), zap.Float64("value", s.gauges[name]()))
	}
}
