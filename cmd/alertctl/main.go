// Command alertctl sends system alerts to, and tails topics from, a node's
// message bus bridge.
//
// Usage:
//
//	alertctl send --type shutdown --description "end of shift"
//	alertctl tail --topic final_waypoints --count 5
//	alertctl version
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/banshee-data/trajectory.follower/internal/version"
)

const defaultBridge = "localhost:7447"

var bridgeFlag = &cli.StringFlag{
	Name:    "bridge",
	Aliases: []string{"b"},
	Usage:   "Bus bridge gRPC address",
	Value:   defaultBridge,
	EnvVars: []string{"ALERTCTL_BRIDGE"},
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:      "alertctl",
		Usage:     "Send alerts to and tail topics from a trajectory follower node",
		Version:   version.String(),
		Writer:    out,
		ErrWriter: out,
		Commands: []*cli.Command{
			sendCommand(),
			tailCommand(),
			versionCommand(),
		},
		// Exit codes are applied in main so tests can run the app.
		ExitErrHandler: func(*cli.Context, error) {},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			_, err := fmt.Fprintf(c.App.Writer, "alertctl %s\nplugin version %s\n", version.String(), version.PluginVersion())
			return err
		},
	}
}

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "alertctl: %v\n", err)
		var coder cli.ExitCoder
		if errors.As(err, &coder) {
			os.Exit(coder.ExitCode())
		}
		os.Exit(1)
	}
}
