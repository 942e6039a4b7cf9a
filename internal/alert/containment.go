// Package alert turns processing failures into FATAL system alerts.
//
// Every externally triggered step of the node runs through a Containment.
// A step that returns an error or panics is reported once on the alert
// channel, then after a short grace period the shutdown gate is triggered.
// Failures never propagate past the containment point.
package alert

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/banshee-data/trajectory.follower/internal/monitoring"
	"github.com/banshee-data/trajectory.follower/internal/msgs"
	"github.com/banshee-data/trajectory.follower/internal/shutdown"
	"github.com/banshee-data/trajectory.follower/internal/timeutil"
)

// DefaultGracePeriod is how long containment waits after sending a FATAL
// alert before triggering shutdown, giving the alert time to leave.
const DefaultGracePeriod = 50 * time.Millisecond

// ErrPanic wraps a value recovered from a panicking step.
var ErrPanic = errors.New("panic")

// Sender delivers alerts on the system alert channel.
type Sender interface {
	SendAlert(msgs.SystemAlert) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(msgs.SystemAlert) error

// SendAlert calls f.
func (f SenderFunc) SendAlert(a msgs.SystemAlert) error { return f(a) }

// Containment is the single point where processing failures are absorbed.
type Containment struct {
	origin string
	sender Sender
	gate   *shutdown.Gate
	clock  timeutil.Clock
	grace  time.Duration
	log    *zap.Logger

	raised atomic.Bool
	faults atomic.Uint64
}

// Option configures a Containment.
type Option func(*Containment)

// WithClock sets the clock used for the grace sleep and alert stamps.
func WithClock(c timeutil.Clock) Option {
	return func(ct *Containment) { ct.clock = c }
}

// WithGracePeriod overrides DefaultGracePeriod. Negative values are
// treated as zero.
func WithGracePeriod(d time.Duration) Option {
	return func(ct *Containment) {
		if d < 0 {
			d = 0
		}
		ct.grace = d
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(ct *Containment) { ct.log = l }
}

// NewContainment returns a Containment reporting on behalf of origin, the
// node name embedded in every FATAL description.
func NewContainment(origin string, sender Sender, gate *shutdown.Gate, opts ...Option) *Containment {
	c := &Containment{
		origin: origin,
		sender: sender,
		gate:   gate,
		clock:  timeutil.RealClock{},
		grace:  DefaultGracePeriod,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = monitoring.L()
	}
	c.log = c.log.With(zap.String("node", origin))
	return c
}

// Guard runs fn as the named step. It returns true when fn completed
// without error. Errors and panics are contained.
func (c *Containment) Guard(step string, fn func() error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Debug("recovered panic", zap.String("step", step), zap.ByteString("stack", debug.Stack()))
			c.Contain(step, fmt.Errorf("%w: %v", ErrPanic, r))
			ok = false
		}
	}()

	if err := fn(); err != nil {
		c.Contain(step, err)
		return false
	}
	return true
}

// Contain reports err as a FATAL alert, waits out the grace period and
// triggers shutdown. Only the first failure is broadcast; later ones are
// logged and counted.
func (c *Containment) Contain(step string, err error) {
	if err == nil {
		return
	}
	c.faults.Add(1)

	if !c.raised.CompareAndSwap(false, true) {
		// The first failure owns the alert and the transition.
		c.log.Warn("fault after FATAL already raised", zap.String("step", step), zap.Error(err))
		return
	}

	desc := FatalDescription(c.origin, step, err)
	c.log.Error("contained fault", zap.String("step", step), zap.Error(err))

	alert := msgs.SystemAlert{
		Type:        msgs.AlertFatal,
		Description: desc,
		Source:      c.origin,
		Stamp:       c.clock.Now(),
	}
	if sendErr := c.sender.SendAlert(alert); sendErr != nil {
		c.log.Error("failed to send FATAL alert", zap.String("step", step), zap.Error(sendErr))
	}

	if c.grace > 0 {
		c.clock.Sleep(c.grace)
	}
	c.gate.Trigger(desc)
}

// Faults returns the number of failures contained so far.
func (c *Containment) Faults() uint64 {
	return c.faults.Load()
}

// Raised reports whether a FATAL alert has been sent.
func (c *Containment) Raised() bool {
	return c.raised.Load()
}

// FatalDescription formats the description carried by a FATAL alert.
func FatalDescription(origin, step string, err error) string {
	return fmt.Sprintf("Unhandled failure in %s during %s: %v", origin, step, err)
}
