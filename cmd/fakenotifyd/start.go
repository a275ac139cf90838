package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/thejerf/suture/v4"

	"github.com/zachhandley/fakenotify/internal/config"
	"github.com/zachhandley/fakenotify/internal/dispatcher"
	"github.com/zachhandley/fakenotify/internal/ipcserver"
	"github.com/zachhandley/fakenotify/internal/pollwatch"
	"github.com/zachhandley/fakenotify/internal/registry"
	"github.com/zachhandley/fakenotify/internal/statsapi"
)

// StartCmd boots the daemon: bind the client socket, run the poll engine
// and dispatcher, and (optionally) the stats HTTP surface, all supervised
// by a suture root the way cmd/syncthing/discosrv/discosrv.go builds its
// "main" tree.
type StartCmd struct {
	Socket      string `help:"Override socket path." env:"FAKENOTIFY_SOCKET"`
	Daemonize   bool   `short:"d" help:"Run in the background."`
	PIDFile     string `help:"PID file path, written at startup and removed on exit."`
	StatsListen string `help:"Stats HTTP listen address, overriding daemon.enable_stats." env:"FAKENOTIFYD_STATS_LISTEN"`
}

func (cmd *StartCmd) Run(cli *CLI) error {
	if cmd.Daemonize {
		return cmd.reexecDetached(os.Args[1:])
	}

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg = cfg.WithSocket(cmd.Socket).WithLogLevel(cli.LogLevel)

	if cmd.PIDFile != "" {
		if err := writePIDFile(cmd.PIDFile); err != nil {
			return fmt.Errorf("write pid file: %w", err)
		}
		defer os.Remove(cmd.PIDFile) //nolint:errcheck
	}

	reg := registry.New()
	disp := dispatcher.New(reg)
	watcher := pollwatch.New(1024)

	for _, w := range cfg.Watch {
		interval := time.Duration(w.PollInterval) * time.Second
		if interval <= 0 {
			interval = 5 * time.Second
		}
		if err := watcher.Add(w.Path, interval, w.Recursive); err != nil {
			l.Warnf("failed to watch configured path %s: %v", w.Path, err)
		}
	}

	ipcSrv := &ipcserver.Server{
		SocketPath: cfg.Daemon.Socket,
		Registry:   reg,
		Dispatcher: disp,
		Watcher:    watcher,
	}

	root := suture.New("main", suture.Spec{PassThroughPanics: true})
	root.Add(ipcSrv)
	root.Add(&dispatcherService{dispatcher: disp, watcher: watcher})

	statsAddr := cmd.StatsListen
	if statsAddr == "" && cfg.Daemon.EnableStats {
		statsAddr = "127.0.0.1:8080"
	}
	if statsAddr != "" {
		root.Add(&statsapi.Server{Addr: statsAddr, Registry: reg})
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				l.Infoln("received SIGHUP, ignoring")
			}
		}
	}()

	l.Infof("starting fakenotifyd on %s", cfg.Daemon.Socket)
	return root.Serve(ctx)
}

// dispatcherService adapts dispatcher.Run's channel-based loop to
// suture.Service's Serve(ctx) signature.
type dispatcherService struct {
	dispatcher *dispatcher.Dispatcher
	watcher    *pollwatch.Watcher
}

func (s *dispatcherService) Serve(ctx context.Context) error {
	stop := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(stop)
	}()
	s.dispatcher.Run(s.watcher.Events(), stop)
	return nil
}

// reexecDetached re-launches the current binary without --daemonize,
// detached from the controlling terminal, matching the original's own
// daemonize step of forking a managed child process (server.rs). The
// args are re-quoted with go-shellquote for the log line that records
// exactly how the child was launched.
func (cmd *StartCmd) reexecDetached(args []string) error {
	filtered := make([]string, 0, len(args))
	for _, a := range args {
		if a == "--daemonize" || a == "-d" {
			continue
		}
		filtered = append(filtered, a)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	proc, err := os.StartProcess(exe, append([]string{exe}, filtered...), &os.ProcAttr{
		Files: []*os.File{nil, nil, nil},
		Sys:   &syscall.SysProcAttr{Setsid: true},
	})
	if err != nil {
		return fmt.Errorf("start detached process: %w", err)
	}

	l.Infof("daemonized as pid %d (%s)", proc.Pid, shellquote.Join(append([]string{exe}, filtered...)...))
	return nil
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}
