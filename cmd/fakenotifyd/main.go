// Command fakenotifyd is the daemon process described in spec.md §4.4-§4.7,
// §6: it binds the client socket, runs the poll-driven watch engine, and
// serves start/stop/status/add/remove/list/completion subcommands. CLI
// ergonomics follow the teacher's cmd/infra/ursrv (alecthomas/kong
// struct-tag commands, a default subcommand) and cmd/syncthing/discosrv
// (a suture root supervisor wired up inside a subcommand's Run method).
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/willabides/kongplete"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/zachhandley/fakenotify/internal/logging"
)

var l = logging.New("fakenotifyd", "daemon CLI entry point")

// CLI is the top-level command tree (original_source/crates/daemon/src/cli.rs's
// Cli/Command, flattened into kong's struct-tag idiom).
type CLI struct {
	Config   string `help:"Configuration file path." env:"FAKENOTIFYD_CONFIG"`
	LogLevel string `help:"Log level (debug, info, warn)." env:"FAKENOTIFYD_LOG_LEVEL"`

	Start      StartCmd                     `cmd:"" default:"" help:"Start the daemon."`
	Stop       StopCmd                      `cmd:"" help:"Stop the running daemon."`
	Status     StatusCmd                    `cmd:"" help:"Show daemon status."`
	Add        AddCmd                       `cmd:"" help:"Add a watch path at runtime."`
	Remove     RemoveCmd                    `cmd:"" help:"Remove a watch path."`
	List       ListCmd                      `cmd:"" help:"List watched paths."`
	Completion kongplete.InstallCompletions `cmd:"" help:"Install shell completions."`
}

func main() {
	maxprocs.Set()

	var cli CLI
	parser := kong.Must(&cli,
		kong.Name("fakenotifyd"),
		kong.Description("NFS filesystem watcher that emulates inotify events."),
		kong.UsageOnError(),
	)

	kongplete.Complete(parser)

	ctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	if cli.LogLevel == "debug" {
		logging.Default.SetDebugAll(true)
	}

	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintf(os.Stderr, "fakenotifyd: %s: %v\n", ctx.Command(), err)
		os.Exit(1)
	}
}
