package main

import (
	"context"
	"fmt"

	"github.com/calmh/incontainer"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/zachhandley/fakenotify/internal/config"
)

// StatusCmd reports whether a daemon is reachable, and if a PID file is
// known, whether that specific process is still alive (supplementing the
// original's bare Ping-only status check with the same container-detection
// line the teacher surfaces at lib/api/api.go's /rest/system/status).
type StatusCmd struct {
	Socket  string `help:"Override socket path." env:"FAKENOTIFY_SOCKET"`
	PIDFile string `help:"PID file written by 'start --pid-file', for liveness detail."`
}

func (cmd *StatusCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg = cfg.WithSocket(cmd.Socket)

	if !isDaemonRunning(cfg.Daemon.Socket) {
		fmt.Printf("fakenotifyd: not running (socket %s unreachable)\n", cfg.Daemon.Socket)
		return nil
	}

	if err := sendPing(cfg.Daemon.Socket); err != nil {
		return fmt.Errorf("daemon socket open but not responding: %w", err)
	}

	fmt.Printf("fakenotifyd: running (socket %s, container=%v)\n", cfg.Daemon.Socket, incontainer.Detect())

	if cmd.PIDFile != "" {
		pid, err := readPIDFile(cmd.PIDFile)
		if err != nil {
			fmt.Printf("  pid file %s: %v\n", cmd.PIDFile, err)
			return nil
		}
		proc, err := process.NewProcessWithContext(context.Background(), int32(pid))
		if err != nil {
			fmt.Printf("  pid %d: not found (%v)\n", pid, err)
			return nil
		}
		running, err := proc.IsRunningWithContext(context.Background())
		if err != nil || !running {
			fmt.Printf("  pid %d: stale pid file, process not running\n", pid)
			return nil
		}
		fmt.Printf("  pid %d: alive\n", pid)
	}

	return nil
}
