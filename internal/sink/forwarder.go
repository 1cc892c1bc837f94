package sink

import (
	"context"
	"errors"
	"sync"

	"github.com/signalsfoundry/groundpass/internal/logging"
	"github.com/signalsfoundry/groundpass/kb"
)

// PublishMetrics receives one observation per sink publish.
// *observability.GenerationCollector satisfies it.
type PublishMetrics interface {
	ObservePublish(sink string, err error)
}

const forwarderQueueSize = 64

// Forwarder subscribes to store events and hands every batch of newly stored
// passes to each sink, in order, from a single goroutine.
type Forwarder struct {
	store   *kb.Store
	sinks   []Sink
	log     logging.Logger
	metrics PublishMetrics

	mu          sync.RWMutex
	closed      bool
	queue       chan []Record
	unsubscribe func()
	wg          sync.WaitGroup
	startOnce   sync.Once
	closeOnce   sync.Once
	closeErr    error
}

// NewForwarder constructs a Forwarder. metrics may be nil.
func NewForwarder(store *kb.Store, sinks []Sink, log logging.Logger, metrics PublishMetrics) *Forwarder {
	if log == nil {
		log = logging.Noop()
	}
	return &Forwarder{
		store:   store,
		sinks:   sinks,
		log:     log,
		metrics: metrics,
		queue:   make(chan []Record, forwarderQueueSize),
	}
}

// Start subscribes to the store and begins delivery. Delivery uses ctx for
// sink calls; cancelling it fails pending publishes fast.
func (f *Forwarder) Start(ctx context.Context) {
	f.startOnce.Do(func() {
		f.unsubscribe = f.store.Subscribe(f.enqueue)
		f.wg.Add(1)
		go f.run(ctx)
		names := make([]string, 0, len(f.sinks))
		for _, s := range f.sinks {
			names = append(names, s.Name())
		}
		f.log.Info(ctx, "pass forwarding started", logging.Any("sinks", names))
	})
}

func (f *Forwarder) enqueue(ev kb.Event) {
	if ev.Type != kb.EventPassesStored || len(ev.Passes) == 0 {
		return
	}
	records := make([]Record, 0, len(ev.Passes))
	for _, p := range ev.Passes {
		r := Record{StoredPass: p}
		if sat, ok := f.store.Satellite(p.SatelliteID); ok {
			r.NoradID = sat.NoradID
			r.Satellite = sat.Name
		}
		if st, ok := f.store.Station(p.GroundStationID); ok {
			r.Station = st.Code
		}
		records = append(records, r)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	f.queue <- records
}

func (f *Forwarder) run(ctx context.Context) {
	defer f.wg.Done()
	for records := range f.queue {
		for _, s := range f.sinks {
			err := s.Publish(ctx, records)
			if f.metrics != nil {
				f.metrics.ObservePublish(s.Name(), err)
			}
			if err != nil {
				f.log.Warn(ctx, "sink publish failed",
					logging.String("sink", s.Name()),
					logging.Int("passes", len(records)),
					logging.Err(err),
				)
			}
		}
	}
}

// Close stops the subscription, delivers everything already queued, and
// closes the sinks.
func (f *Forwarder) Close() error {
	f.closeOnce.Do(func() {
		if f.unsubscribe != nil {
			f.unsubscribe()
		}
		f.mu.Lock()
		f.closed = true
		close(f.queue)
		f.mu.Unlock()
		f.wg.Wait()

		var errs []error
		for _, s := range f.sinks {
			if err := s.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		f.closeErr = errors.Join(errs...)
	})
	return f.closeErr
}
