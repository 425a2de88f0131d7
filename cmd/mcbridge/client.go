package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/automcagent/mcbridge/internal/controller"
	"github.com/automcagent/mcbridge/internal/protocol"
	"github.com/pkg/errors"
	"github.com/pterm/pterm"
	"github.com/urfave/cli/v3"
)

func clientFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "url",
			Value:   "ws://localhost:8765/",
			Usage:   "bridge WebSocket URL",
			Sources: cli.EnvVars("BRIDGE_URL"),
		},
		&cli.StringFlag{
			Name:    "token",
			Usage:   "bearer token for the bridge",
			Sources: cli.EnvVars("BRIDGE_AUTH_TOKEN"),
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Value: 30 * time.Second,
			Usage: "how long to wait for a result",
		},
	}
}

func dial(ctx context.Context, cmd *cli.Command, opts ...controller.Option) (*controller.Client, error) {
	header := http.Header{}
	if token := cmd.String("token"); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return controller.Dial(ctx, cmd.String("url"), header, 10*time.Second, opts...)
}

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "send one command to a running bridge and print the result",
		ArgsUsage: "<action> [params-json]",
		Flags:     clientFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			action := cmd.Args().First()
			if action == "" {
				return errors.New("action is required")
			}
			var params any
			if raw := cmd.Args().Get(1); raw != "" {
				if err := json.Unmarshal([]byte(raw), &params); err != nil {
					return errors.Wrap(err, "params must be JSON")
				}
			}

			c, err := dial(ctx, cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			waitCtx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
			defer cancel()
			result, err := c.Do(waitCtx, action, params)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			if !result.Success {
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "print state and event messages from a running bridge",
		Flags: append(clientFlags(), &cli.BoolFlag{
			Name:  "events-only",
			Usage: "skip state snapshots",
		}),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			var handlers []controller.Option
			if !cmd.Bool("events-only") {
				handlers = append(handlers, controller.WithHandler(protocol.TypeState, func(payload json.RawMessage) {
					fmt.Printf("state %s\n", payload)
				}))
			}
			handlers = append(handlers, controller.WithHandler(protocol.TypeEvent, func(payload json.RawMessage) {
				var ev protocol.EventPayload
				if err := json.Unmarshal(payload, &ev); err != nil {
					pterm.Warning.Printfln("bad event payload: %v", err)
					return
				}
				pterm.Info.Printfln("event %s %s", ev.Event, payload)
			}))

			c, err := dial(ctx, cmd, handlers...)
			if err != nil {
				return err
			}
			defer c.Close()

			select {
			case <-ctx.Done():
			case <-c.Done():
				if err := c.Err(); err != nil {
					pterm.Warning.Printfln("bridge went away: %v", err)
				}
			}
			return nil
		},
	}
}
