// Command mock-controller-driver runs a mock vehicle controller driver
// against a node's bus bridge.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/banshee-data/trajectory.follower/internal/bus"
	"github.com/banshee-data/trajectory.follower/internal/config"
	"github.com/banshee-data/trajectory.follower/internal/mockdriver"
	"github.com/banshee-data/trajectory.follower/internal/monitoring"
	"github.com/banshee-data/trajectory.follower/internal/timeutil"
)

var (
	bridgeAddr   = flag.String("bridge", "localhost:7447", "Bus bridge gRPC address")
	commandTopic = flag.String("command-topic", config.TopicVehicleCmd, "Vehicle command topic")
	statusTopic  = flag.String("status-topic", config.TopicRobotStatus, "Robot status topic")
	rate         = flag.Float64("rate", mockdriver.DefaultStatusRate, "Robot status publish rate in Hz")
	enabled      = flag.Bool("enabled", true, "Start with robotic control enabled")
)

func run(ctx context.Context, b bus.Bus) error {
	driver, err := mockdriver.New(mockdriver.Options{
		Bus:          b,
		Clock:        timeutil.RealClock{},
		CommandTopic: *commandTopic,
		StatusTopic:  *statusTopic,
		StatusRate:   *rate,
	})
	if err != nil {
		return err
	}
	driver.EnableRobotic(*enabled)
	monitoring.Logf("[MockDriver] publishing %s at %.1f Hz", *statusTopic, *rate)

	err = driver.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	remote, err := bus.Dial(*bridgeAddr)
	if err != nil {
		log.Fatalf("failed to dial bridge: %v", err)
	}
	defer remote.Close()

	if err := run(ctx, remote); err != nil {
		log.Fatalf("mock controller driver: %v", err)
	}
}
