package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/kerneltune/internal/autotune"
	"github.com/samcharles93/kerneltune/internal/backend"
)

func devicesCmd() *cli.Command {
	return &cli.Command{
		Name:  "devices",
		Usage: "Show the devices decisions are tuned for and their identity",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if _, _, err := prepare(ctx, cmd); err != nil {
				return err
			}
			dev, err := backend.Open(backendName)
			if err != nil {
				return fmt.Errorf("open backend %q: %w (available: %s)", backendName, err, backend.Available())
			}
			defer func() { _ = dev.Close() }()
			renderDevice(os.Stdout, dev)
			return nil
		},
	}
}

func renderDevice(w io.Writer, dev backend.Device) {
	table := newTable(nil, lipgloss.Left).
		Headers("property", "value")
	table.Row("id", dev.ID())
	table.Row("name", dev.Name())
	table.Row("checksum", autotune.Checksum(dev.Identity()))
	table.Row("identity", joinLines(dev.Identity()))
	_, _ = fmt.Fprintln(w, table.Render())
}
