package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/banshee-data/trajectory.follower/internal/bus"
	"github.com/banshee-data/trajectory.follower/internal/config"
	"github.com/banshee-data/trajectory.follower/internal/msgs"
)

func tailCommand() *cli.Command {
	return &cli.Command{
		Name:  "tail",
		Usage: "Print messages published on a topic as JSON lines",
		Flags: []cli.Flag{
			bridgeFlag,
			&cli.StringFlag{
				Name:     "topic",
				Usage:    "Topic to tail",
				Required: true,
			},
			&cli.IntFlag{
				Name:    "count",
				Aliases: []string{"n"},
				Usage:   "Exit after this many messages (0 tails forever)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Give up after this long without a message (0 waits forever)",
			},
		},
		Action: tailAction,
	}
}

// newMessage returns a value to decode payloads of topic into. Unknown
// topics decode generically.
func newMessage(topic string) any {
	switch topic {
	case config.TopicCurrentPose:
		return &msgs.PoseStamped{}
	case config.TopicPlanTrajectory:
		return &msgs.TrajectoryPlan{}
	case config.TopicSystemAlert:
		return &msgs.SystemAlert{}
	case config.TopicFinalWaypoints:
		return &msgs.Lane{}
	case config.TopicPluginDiscovery:
		return &msgs.Plugin{}
	case config.TopicVehicleCmd:
		return &msgs.VehicleCmd{}
	case config.TopicRobotStatus:
		return &msgs.RobotEnabled{}
	default:
		var v map[string]any
		return &v
	}
}

func tailAction(c *cli.Context) error {
	topic := c.String("topic")
	remote, err := bus.Dial(c.String("bridge"))
	if err != nil {
		return err
	}
	defer remote.Close()

	sub, err := remote.Subscribe(topic, bus.DefaultQueueSize)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	count, seen := c.Int("count"), 0
	enc := json.NewEncoder(c.App.Writer)
	for count == 0 || seen < count {
		var timeout <-chan time.Time
		if d := c.Duration("timeout"); d > 0 {
			timeout = time.After(d)
		}
		select {
		case <-c.Context.Done():
			return nil
		case <-timeout:
			return cli.Exit(fmt.Sprintf("no message on %s within %s", topic, c.Duration("timeout")), 3)
		case msg, ok := <-sub.Messages():
			if !ok {
				return cli.Exit("subscription closed by bridge", 1)
			}
			v := newMessage(topic)
			if err := bus.Decode(msg, v); err != nil {
				return err
			}
			if err := enc.Encode(v); err != nil {
				return err
			}
			seen++
		}
	}
	return nil
}
