// Package circuitbreaker sheds calls to a backend that keeps failing, then
// probes it again after a cool-off period.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrOpen is returned without touching the backend while the breaker sheds.
var ErrOpen = errors.New("circuit open")

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Settings tune one breaker. Zero values mean: trip after 5 consecutive
// failures, close after 2 consecutive probe successes, 30s cool-off, one
// probe in flight at a time.
type Settings struct {
	Name             string
	FailureThreshold int
	SuccessThreshold int
	CoolOff          time.Duration
	MaxProbes        int
	Logger           *zap.Logger
}

type Breaker struct {
	name             string
	failureThreshold int
	successThreshold int
	coolOff          time.Duration
	maxProbes        int
	logger           *zap.Logger

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	probes    int
	openedAt  time.Time
}

func New(s Settings) *Breaker {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 5
	}
	if s.SuccessThreshold <= 0 {
		s.SuccessThreshold = 2
	}
	if s.CoolOff <= 0 {
		s.CoolOff = 30 * time.Second
	}
	if s.MaxProbes <= 0 {
		s.MaxProbes = 1
	}

	return &Breaker{
		name:             s.Name,
		failureThreshold: s.FailureThreshold,
		successThreshold: s.SuccessThreshold,
		coolOff:          s.CoolOff,
		maxProbes:        s.MaxProbes,
		logger:           s.Logger,
	}
}

// Do runs fn unless the breaker is shedding. A panic counts as a failure
// and is re-raised.
func (b *Breaker) Do(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}

	ok := false
	defer func() { b.settle(ok) }()

	if err := fn(); err != nil {
		return err
	}
	ok = true
	return nil
}

// State reports the current state, promoting an open breaker whose cool-off
// has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeHalfOpen()

	switch b.state {
	case Open:
		return ErrOpen
	case HalfOpen:
		if b.probes >= b.maxProbes {
			return ErrOpen
		}
		b.probes++
	}
	return nil
}

func (b *Breaker) settle(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == HalfOpen && b.probes > 0 {
		b.probes--
	}

	if ok {
		b.failures = 0
		if b.state == HalfOpen {
			b.successes++
			if b.successes >= b.successThreshold {
				b.transition(Closed)
			}
		}
		return
	}

	b.successes = 0
	switch b.state {
	case Closed:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.transition(Open)
		}
	case HalfOpen:
		b.transition(Open)
	}
}

func (b *Breaker) maybeHalfOpen() {
	if b.state == Open && time.Since(b.openedAt) >= b.coolOff {
		b.transition(HalfOpen)
	}
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	b.failures = 0
	b.successes = 0
	b.probes = 0
	if to == Open {
		b.openedAt = time.Now()
	}

	if b.logger != nil {
		b.logger.Info("Circuit state changed",
			zap.String("breaker", b.name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
}
