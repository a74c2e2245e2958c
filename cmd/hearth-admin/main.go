// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// hearth-admin inspects and maintains a Hearth event store from the
// command line: listing rooms, walking history, running purges, and
// searching. It opens the database named by the config file directly,
// so it must not run concurrently with a serving process.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

const usage = `Usage: hearth-admin [--config FILE] <command> [flags]

Commands:
  rooms                     list rooms in the public directory
  events <room>             page through room history
  context <room> <event>    show the events around one event
  members <room>            list a room's current members
  purge <room>              purge history before a topological token
  search <term>             rank events against a search term

Run 'hearth-admin <command> --help' for command flags.
`

func run(args []string) error {
	global := pflag.NewFlagSet("hearth-admin", pflag.ContinueOnError)
	global.SetInterspersed(false)
	configPath := global.String("config", "", "config file (default: $HEARTH_CONFIG)")
	requester := global.String("as", "", "user ID to read as (required for history commands)")
	if err := global.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			fmt.Fprint(os.Stderr, usage)
			return nil
		}
		return err
	}

	rest := global.Args()
	if len(rest) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("command required")
	}

	ctx := context.Background()
	app, err := openApp(*configPath, *requester)
	if err != nil {
		return err
	}
	defer app.Close()

	command, commandArgs := rest[0], rest[1:]
	switch command {
	case "rooms":
		return app.runRooms(ctx, commandArgs)
	case "events":
		return app.runEvents(ctx, commandArgs)
	case "context":
		return app.runContext(ctx, commandArgs)
	case "members":
		return app.runMembers(ctx, commandArgs)
	case "purge":
		return app.runPurge(ctx, commandArgs)
	case "search":
		return app.runSearch(ctx, commandArgs)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}
