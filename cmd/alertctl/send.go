package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/banshee-data/trajectory.follower/internal/bus"
	"github.com/banshee-data/trajectory.follower/internal/config"
	"github.com/banshee-data/trajectory.follower/internal/msgs"
)

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:  "send",
		Usage: "Publish a system alert",
		Flags: []cli.Flag{
			bridgeFlag,
			&cli.StringFlag{
				Name:    "type",
				Aliases: []string{"t"},
				Usage:   "Alert type: info, warn, shutdown, fatal",
				Value:   "shutdown",
			},
			&cli.StringFlag{
				Name:    "description",
				Aliases: []string{"d"},
				Usage:   "Human readable description",
			},
			&cli.StringFlag{
				Name:  "source",
				Usage: "Alert source (defaults to a unique alertctl id)",
			},
			&cli.StringFlag{
				Name:  "topic",
				Usage: "Alert topic",
				Value: config.TopicSystemAlert,
			},
			&cli.BoolFlag{
				Name:  "latched",
				Usage: "Retain the alert for late subscribers",
			},
		},
		Action: sendAction,
	}
}

func sendAction(c *cli.Context) error {
	typ, err := msgs.ParseAlertType(c.String("type"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	source := c.String("source")
	if source == "" {
		source = "alertctl-" + uuid.NewString()[:8]
	}
	alert := msgs.SystemAlert{
		Type:        typ,
		Description: c.String("description"),
		Source:      source,
		Stamp:       time.Now().UTC(),
	}

	remote, err := bus.Dial(c.String("bridge"))
	if err != nil {
		return err
	}
	defer remote.Close()

	if err := bus.NewPublisher(remote).Publish(c.String("topic"), alert, c.Bool("latched")); err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.App.Writer, "sent %s alert from %s to %s\n", typ, source, c.String("topic"))
	return err
}
