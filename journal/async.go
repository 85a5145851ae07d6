package journal

import (
	"sync"
	"sync/atomic"

	"github.com/rustyeddy/autotrader/logging"
	"github.com/sirupsen/logrus"
)

// Async decouples callers from sink latency. Record never blocks: when the
// buffer is full the entry is dropped and counted.
type Async struct {
	inner Journal
	log   *logrus.Entry
	ch    chan Entry
	done  chan struct{}

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

func NewAsync(inner Journal, buffer int, log *logging.Logger) *Async {
	if buffer <= 0 {
		buffer = 1
	}
	if log == nil {
		log = logging.Discard()
	}
	a := &Async{
		inner: inner,
		log:   log.WithComponent("journal"),
		ch:    make(chan Entry, buffer),
		done:  make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *Async) loop() {
	defer close(a.done)
	for e := range a.ch {
		if err := a.inner.Record(e); err != nil {
			a.failed.Add(1)
			a.log.WithError(err).WithFields(logrus.Fields{
				"entry_id": e.ID,
				"stage":    e.Stage,
			}).Warn("journal write failed")
		}
	}
}

func (a *Async) Record(e Entry) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return nil
	}
	select {
	case a.ch <- e:
	default:
		a.dropped.Add(1)
		a.log.WithFields(logrus.Fields{"stage": e.Stage, "signal_id": e.SignalID}).
			Warn("journal buffer full, entry dropped")
	}
	return nil
}

// Dropped reports entries discarded because the buffer was full or the
// journal was closed.
func (a *Async) Dropped() uint64 { return a.dropped.Load() }

// Failed reports entries the inner sink returned an error for.
func (a *Async) Failed() uint64 { return a.failed.Load() }

// Close drains buffered entries and closes the inner sink.
func (a *Async) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.ch)
		a.mu.Unlock()
		<-a.done
		err = a.inner.Close()
	})
	return err
}
