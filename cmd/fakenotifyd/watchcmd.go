package main

import (
	"fmt"
	"path/filepath"

	"github.com/gobwas/glob"

	"github.com/zachhandley/fakenotify/internal/config"
	"github.com/zachhandley/fakenotify/internal/eventcodec"
	"github.com/zachhandley/fakenotify/internal/ipcmsg"
)

// AddCmd adds a watch path to a running daemon (original_source/crates/daemon/src/cli.rs's
// Command::Add), subscribing to every event kind the daemon can observe
// (spec.md §4.1) since the CLI surface has no per-kind mask flag.
type AddCmd struct {
	Path         string `arg:"" help:"Path to watch."`
	PollInterval uint64 `short:"i" default:"5" help:"Polling interval in seconds."`
	Recursive    bool   `short:"r" default:"true" help:"Watch recursively."`
	Socket       string `help:"Override socket path." env:"FAKENOTIFY_SOCKET"`
}

func (cmd *AddCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg = cfg.WithSocket(cmd.Socket)

	resp, err := sendDaemonRequest(cfg.Daemon.Socket, ipcmsg.Request{
		Kind:             ipcmsg.ReqAddWatch,
		Path:             cmd.Path,
		Mask:             uint32(eventcodec.InAllEvents),
		Recursive:        cmd.Recursive,
		PollIntervalSecs: uint32(cmd.PollInterval),
	})
	if err != nil {
		return err
	}
	switch resp.Kind {
	case ipcmsg.RespWatchAdded:
		fmt.Printf("watching %s (wd=%d)\n", cmd.Path, resp.Wd)
		return nil
	case ipcmsg.RespError:
		return fmt.Errorf("%s", resp.Message)
	default:
		return fmt.Errorf("unexpected response kind %v", resp.Kind)
	}
}

// RemoveCmd stops watching a path. The original's Command::Remove is an
// explicit stub ("Remove by path not fully implemented... would need a
// PathToWd command") because the base protocol has no way to resolve a
// path back to a watch descriptor; ReqListWatches (see internal/ipcmsg)
// closes that gap, so this does the lookup itself.
type RemoveCmd struct {
	Path   string `arg:"" help:"Path to stop watching."`
	Socket string `help:"Override socket path." env:"FAKENOTIFY_SOCKET"`
}

func (cmd *RemoveCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg = cfg.WithSocket(cmd.Socket)

	target, err := filepath.Abs(cmd.Path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	target = filepath.Clean(target)

	listResp, err := sendDaemonRequest(cfg.Daemon.Socket, ipcmsg.Request{Kind: ipcmsg.ReqListWatches})
	if err != nil {
		return err
	}
	if listResp.Kind != ipcmsg.RespWatchList {
		return fmt.Errorf("unexpected response kind %v to ListWatches", listResp.Kind)
	}

	var wd int32
	found := false
	for _, w := range listResp.Watches {
		if w.Path == target {
			wd, found = w.Wd, true
			break
		}
	}
	if !found {
		return fmt.Errorf("no watch on %s", target)
	}

	resp, err := sendDaemonRequest(cfg.Daemon.Socket, ipcmsg.Request{Kind: ipcmsg.ReqRemoveWatch, Wd: wd})
	if err != nil {
		return err
	}
	switch resp.Kind {
	case ipcmsg.RespWatchRemoved:
		fmt.Printf("stopped watching %s\n", target)
		return nil
	case ipcmsg.RespError:
		return fmt.Errorf("%s", resp.Message)
	default:
		return fmt.Errorf("unexpected response kind %v", resp.Kind)
	}
}

// ListCmd lists the daemon's active watches. The original's Command::List
// is an explicit stub ("List watches command not yet implemented");
// ReqListWatches (see internal/ipcmsg) supplies what it was missing.
type ListCmd struct {
	Socket string `help:"Override socket path." env:"FAKENOTIFY_SOCKET"`
	Filter string `help:"Only list paths matching this glob pattern."`
}

func (cmd *ListCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg = cfg.WithSocket(cmd.Socket)

	resp, err := sendDaemonRequest(cfg.Daemon.Socket, ipcmsg.Request{Kind: ipcmsg.ReqListWatches})
	if err != nil {
		return err
	}
	if resp.Kind != ipcmsg.RespWatchList {
		return fmt.Errorf("unexpected response kind %v to ListWatches", resp.Kind)
	}

	watches, err := filterWatches(resp.Watches, cmd.Filter)
	if err != nil {
		return fmt.Errorf("compile filter: %w", err)
	}

	if len(watches) == 0 {
		fmt.Println("no active watches")
		return nil
	}
	for _, w := range watches {
		fmt.Printf("wd=%-4d recursive=%-5v mask=0x%x %s\n", w.Wd, w.Recursive, w.Mask, w.Path)
	}
	return nil
}

// filterWatches keeps only the entries whose Path matches pattern (a glob
// pattern; an empty pattern matches everything).
func filterWatches(watches []ipcmsg.WatchInfo, pattern string) ([]ipcmsg.WatchInfo, error) {
	if pattern == "" {
		return watches, nil
	}
	matcher, err := glob.Compile(pattern)
	if err != nil {
		return nil, err
	}
	out := make([]ipcmsg.WatchInfo, 0, len(watches))
	for _, w := range watches {
		if matcher.Match(w.Path) {
			out = append(out, w)
		}
	}
	return out, nil
}
