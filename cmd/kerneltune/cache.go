package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/kerneltune/internal/autotune"
	"github.com/samcharles93/kerneltune/internal/backend"
	"github.com/samcharles93/kerneltune/internal/logger"
	"github.com/samcharles93/kerneltune/internal/tunestore"
)

func cacheCmd() *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Inspect or clear persisted tuning decisions",
		Commands: []*cli.Command{
			cacheListCmd(),
			cacheClearCmd(),
			cachePathCmd(),
		},
	}
}

func openStore(ctx context.Context, cmd *cli.Command) (context.Context, *tunestore.FileStore, error) {
	ctx, _, err := prepare(ctx, cmd)
	if err != nil {
		return ctx, nil, err
	}
	dir, err := resolveCacheDir(cacheDir)
	if err != nil {
		return ctx, nil, err
	}
	return ctx, tunestore.New(dir), nil
}

func cacheListCmd() *cli.Command {
	var entries bool
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List tuning cache files and their decisions",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "entries",
				Aliases:     []string{"e"},
				Usage:       "print every decision",
				Destination: &entries,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			_, store, err := openStore(ctx, cmd)
			if err != nil {
				return err
			}
			snaps, err := store.List()
			if err != nil {
				return err
			}
			if len(snaps) == 0 {
				fmt.Printf("no tuning cache files in %s\n", store.Dir())
				return nil
			}
			renderSnapshots(os.Stdout, snaps, currentChecksums(), time.Now())
			if entries {
				for _, s := range snaps {
					renderEntries(os.Stdout, s)
				}
			}
			return nil
		},
	}
}

func cacheClearCmd() *cli.Command {
	return &cli.Command{
		Name:      "clear",
		Usage:     "Delete tuning cache files (all devices unless some are named)",
		ArgsUsage: "[device...]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx, store, err := openStore(ctx, cmd)
			if err != nil {
				return err
			}
			n, err := store.Clear(cmd.Args().Slice()...)
			if err != nil {
				return err
			}
			logger.FromContext(ctx).Info("cleared tuning cache", "dir", store.Dir(), "files", n)
			return nil
		},
	}
}

func cachePathCmd() *cli.Command {
	return &cli.Command{
		Name:      "path",
		Usage:     "Print the tuning cache directory, or the file of one device",
		ArgsUsage: "[device]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			_, store, err := openStore(ctx, cmd)
			if err != nil {
				return err
			}
			if cmd.Args().Len() > 0 {
				fmt.Println(store.Path(cmd.Args().First()))
				return nil
			}
			fmt.Println(store.Dir())
			return nil
		},
	}
}

// currentChecksums maps the IDs of devices available on this host to the
// checksum their decisions must carry to be reused.
func currentChecksums() map[string]string {
	out := make(map[string]string)
	dev, err := backend.Open(backend.CPU)
	if err != nil {
		return out
	}
	defer func() { _ = dev.Close() }()
	out[dev.ID()] = autotune.Checksum(dev.Identity())
	return out
}

func renderSnapshots(w io.Writer, snaps []tunestore.Snapshot, current map[string]string, now time.Time) {
	table := newTable(nil, lipgloss.Left, lipgloss.Right, lipgloss.Right, lipgloss.Left, lipgloss.Left, lipgloss.Left).
		Headers("device", "decisions", "size", "modified", "checksum", "state")
	for _, s := range snaps {
		state := "foreign"
		if sum, ok := current[s.DeviceID]; ok {
			state = "stale"
			if sum == s.Checksum {
				state = "current"
			}
		}
		decisions := humanize.Comma(int64(len(s.Entries)))
		if s.Skipped > 0 {
			decisions += fmt.Sprintf(" (+%d unreadable)", s.Skipped)
		}
		table.Row(s.DeviceID, decisions, humanize.Bytes(uint64(s.Size)),
			humanize.RelTime(s.ModTime, now, "ago", "from now"), shortChecksum(s.Checksum), state)
	}
	_, _ = fmt.Fprintln(w, table.Render())
}

func renderEntries(w io.Writer, s tunestore.Snapshot) {
	_, _ = fmt.Fprintf(w, "%s (%s)\n", s.DeviceID, s.Path)
	table := newTable(nil, lipgloss.Left, lipgloss.Left, lipgloss.Left, lipgloss.Right, lipgloss.Left).
		Headers("family", "key", "candidate", "median", "tuned")
	for _, e := range s.Entries {
		var median time.Duration
		if e.Index < len(e.Durations) {
			median = e.Durations[e.Index]
		}
		table.Row(e.Family.String(), e.Key.String(), e.Name, formatDuration(median), e.TunedAt.Local().Format(time.DateTime))
	}
	_, _ = fmt.Fprintln(w, table.Render())
}
