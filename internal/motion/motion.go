// Package motion animates actors between positions without rendering them.
//
// A move is represented by a Handle: a stream of progress values in [0,1]
// and a completion channel that closes exactly once, either on arrival or on
// cancellation. Progress never decreases within one handle.
package motion

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iambrandonn/bmoffice/internal/zones"
)

// Handle is a running move
type Handle interface {
	// Progress delivers the latest progress. Intermediate values may be
	// skipped when the reader is slow; the values seen are non-decreasing.
	Progress() <-chan float64
	// Done closes once the move has arrived or was cancelled
	Done() <-chan struct{}
	// Arrived reports whether the move reached its destination. Only
	// meaningful after Done is closed.
	Arrived() bool
	// Cancel stops the move. Safe to call repeatedly and after arrival.
	Cancel()
}

// Animator runs linear moves at a fixed speed
type Animator struct {
	speed  float64
	tick   time.Duration
	logger *slog.Logger
}

// NewAnimator creates an animator moving speed units per second and
// publishing progress every tick
func NewAnimator(speed float64, tick time.Duration, logger *slog.Logger) *Animator {
	if speed <= 0 {
		speed = 120
	}
	if tick <= 0 {
		tick = 50 * time.Millisecond
	}
	return &Animator{speed: speed, tick: tick, logger: logger}
}

// Duration is how long a move from one point to the other takes
func (a *Animator) Duration(from, to zones.Position) time.Duration {
	secs := from.Distance(to) / a.speed
	return time.Duration(secs * float64(time.Second))
}

// Move starts animating actorID from one point to another
func (a *Animator) Move(ctx context.Context, actorID string, from, to zones.Position) Handle {
	ctx, cancel := context.WithCancel(ctx)
	t := &task{
		progress: make(chan float64, 1),
		done:     make(chan struct{}),
		cancel:   cancel,
	}

	duration := a.Duration(from, to)
	a.logger.Debug("move started", "actor", actorID, "duration", duration)
	go t.run(ctx, duration, a.tick)
	return t
}

type task struct {
	progress chan float64
	done     chan struct{}
	cancel   context.CancelFunc
	arrived  atomic.Bool
	once     sync.Once
	last     float64
}

func (t *task) Progress() <-chan float64 { return t.progress }
func (t *task) Done() <-chan struct{}    { return t.done }
func (t *task) Arrived() bool            { return t.arrived.Load() }

func (t *task) Cancel() {
	t.cancel()
}

func (t *task) finish(arrived bool) {
	t.once.Do(func() {
		t.arrived.Store(arrived)
		close(t.done)
	})
}

// publish replaces any unread value with p, keeping progress monotonic
func (t *task) publish(p float64) {
	if p < t.last {
		p = t.last
	}
	if p > 1 {
		p = 1
	}
	t.last = p
	select {
	case <-t.progress:
	default:
	}
	select {
	case t.progress <- p:
	default:
	}
}

func (t *task) run(ctx context.Context, duration time.Duration, tick time.Duration) {
	defer t.cancel()

	if duration <= 0 {
		t.publish(1)
		t.finish(true)
		return
	}

	start := time.Now()
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.finish(false)
			return
		case now := <-ticker.C:
			p := float64(now.Sub(start)) / float64(duration)
			if p >= 1 {
				t.publish(1)
				t.finish(true)
				return
			}
			t.publish(p)
		}
	}
}
