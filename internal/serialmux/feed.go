package serialmux

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/banshee-data/trajectory.follower/internal/bus"
	"github.com/banshee-data/trajectory.follower/internal/monitoring"
)

// PoseFeed forwards pose fixes read from a SerialMux onto a bus topic.
type PoseFeed struct {
	mux   SerialMuxInterface
	pub   *bus.Publisher
	topic string

	seq       atomic.Uint32
	published atomic.Uint64
	skipped   atomic.Uint64
}

// NewPoseFeed returns a feed publishing to topic on b.
func NewPoseFeed(mux SerialMuxInterface, b bus.Bus, topic string) *PoseFeed {
	return &PoseFeed{mux: mux, pub: bus.NewPublisher(b), topic: topic}
}

// Run subscribes to the mux and publishes every parsable line until ctx is
// done or the mux closes the subscription. Unparsable lines are skipped. A
// publish failure ends the feed.
func (f *PoseFeed) Run(ctx context.Context) error {
	id, lines := f.mux.Subscribe()
	defer f.mux.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			pose, err := ParsePoseLine(line)
			if err != nil {
				f.skipped.Add(1)
				if !errors.Is(err, ErrNotPose) {
					monitoring.Logf("[PoseFeed] skipping line %q: %v", line, err)
				}
				continue
			}
			pose.Header.Seq = f.seq.Add(1)
			if err := f.pub.Publish(f.topic, pose, false); err != nil {
				return err
			}
			f.published.Add(1)
		}
	}
}

// Published returns the number of poses forwarded.
func (f *PoseFeed) Published() uint64 { return f.published.Load() }

// Skipped returns the number of lines that were not pose fixes.
func (f *PoseFeed) Skipped() uint64 { return f.skipped.Load() }
