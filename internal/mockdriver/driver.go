// Package mockdriver stands in for the vehicle's controller driver: it
// accepts vehicle commands and reports robot status so the control stack
// can be exercised without hardware.
package mockdriver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/trajectory.follower/internal/bus"
	"github.com/banshee-data/trajectory.follower/internal/monitoring"
	"github.com/banshee-data/trajectory.follower/internal/msgs"
	"github.com/banshee-data/trajectory.follower/internal/timeutil"
)

const (
	// DefaultStatusRate matches the 10 Hz spin of the controller driver.
	DefaultStatusRate = 10.0
	// DefaultCommandTimeout is how long after the last command the robot
	// still counts as active.
	DefaultCommandTimeout = time.Second
)

var ErrCommandsClosed = errors.New("vehicle command subscription closed")

// Options configures a Driver.
type Options struct {
	Bus            bus.Bus
	Clock          timeutil.Clock
	CommandTopic   string
	StatusTopic    string
	StatusRate     float64
	CommandTimeout time.Duration
	QueueSize      int
}

// Driver is a mock controller driver.
type Driver struct {
	opts Options
	pub  *bus.Publisher

	mu        sync.Mutex
	enabled   bool
	lastCmd   *msgs.VehicleCmd
	lastCmdAt time.Time
	commands  uint64
	seq       uint32
}

// New returns a driver with defaults applied for unset options.
func New(opts Options) (*Driver, error) {
	if opts.Bus == nil {
		return nil, errors.New("mockdriver: bus is required")
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.StatusRate <= 0 {
		opts.StatusRate = DefaultStatusRate
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 10
	}
	for _, topic := range []string{opts.CommandTopic, opts.StatusTopic} {
		if err := bus.ValidateTopic(topic); err != nil {
			return nil, fmt.Errorf("mockdriver: %w", err)
		}
	}
	return &Driver{opts: opts, pub: bus.NewPublisher(opts.Bus)}, nil
}

// EnableRobotic switches robotic control on or off. It always succeeds,
// like the driver service it mocks.
func (d *Driver) EnableRobotic(enable bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enable
	monitoring.Logf("[MockDriver] robotic control enabled=%v", enable)
	return true
}

// LastCommand returns the most recent vehicle command.
func (d *Driver) LastCommand() (msgs.VehicleCmd, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastCmd == nil {
		return msgs.VehicleCmd{}, false
	}
	return *d.lastCmd, true
}

// Commands returns the number of vehicle commands received.
func (d *Driver) Commands() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.commands
}

// HandleCommand records cmd as the latest command.
func (d *Driver) HandleCommand(cmd msgs.VehicleCmd) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastCmd = &cmd
	d.lastCmdAt = d.opts.Clock.Now()
	d.commands++
}

// Status returns the robot status at now. The robot is active while enabled
// and receiving commands.
func (d *Driver) Status(now time.Time) msgs.RobotEnabled {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	active := d.enabled && d.lastCmd != nil && now.Sub(d.lastCmdAt) <= d.opts.CommandTimeout
	return msgs.RobotEnabled{
		Header:       msgs.Header{Seq: d.seq, Stamp: now},
		RobotActive:  active,
		RobotEnabled: d.enabled,
	}
}

// Run consumes commands and publishes status until ctx is done, the command
// subscription closes, or a publish fails.
func (d *Driver) Run(ctx context.Context) error {
	sub, err := d.opts.Bus.Subscribe(d.opts.CommandTopic, d.opts.QueueSize)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", d.opts.CommandTopic, err)
	}
	defer sub.Unsubscribe()

	ticker := d.opts.Clock.NewTicker(time.Duration(float64(time.Second) / d.opts.StatusRate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sub.Messages():
			if !ok {
				return ErrCommandsClosed
			}
			var cmd msgs.VehicleCmd
			if err := bus.Decode(msg, &cmd); err != nil {
				monitoring.Logf("[MockDriver] dropping malformed command: %v", err)
				continue
			}
			d.HandleCommand(cmd)
		case now := <-ticker.C():
			if err := d.pub.Publish(d.opts.StatusTopic, d.Status(now), false); err != nil {
				return err
			}
		}
	}
}
