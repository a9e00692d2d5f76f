package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/BearBump/TagGuard/internal/rfid/frame"
	"github.com/BearBump/TagGuard/internal/rfid/reader"
)

type rootOptions struct {
	IP        string
	Port      int
	Address   uint8
	Timeout   time.Duration
	Retries   int
	StrictCRC bool
	Format    string // "text" | "json"
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "rfidctl",
		Short: "Talk to a UHF RFID reader over TCP",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Format != "text" && opts.Format != "json" {
				return fmt.Errorf("invalid format %q: must be text or json", opts.Format)
			}
			if opts.IP == "" {
				return fmt.Errorf("--ip is required")
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.IP, "ip", "", "reader IP address")
	cmd.PersistentFlags().IntVar(&opts.Port, "port", 4001, "reader TCP port")
	cmd.PersistentFlags().Uint8Var(&opts.Address, "address", frame.BroadcastAddr, "reader bus address")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", reader.DefaultCommandTimeout, "per-command response timeout")
	cmd.PersistentFlags().IntVar(&opts.Retries, "retries", reader.DefaultMaxRetries, "extra waits after a response timeout")
	cmd.PersistentFlags().BoolVar(&opts.StrictCRC, "strict-crc", false, "drop frames with a bad checksum")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")

	cmd.AddCommand(newInfoCommand(opts))
	cmd.AddCommand(newPowerCommand(opts))
	cmd.AddCommand(newNetworkCommand(opts))
	cmd.AddCommand(newGPIOCommand(opts))
	cmd.AddCommand(newRelayCommand(opts))
	cmd.AddCommand(newGateModeCommand(opts))
	cmd.AddCommand(newParamsCommand(opts))
	cmd.AddCommand(newScanCommand(opts))

	return cmd
}

// withReader connects, runs fn and always disconnects.
func withReader(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, c *reader.Conn) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	c := reader.New(reader.Options{
		ID:             "rfidctl",
		Address:        opts.Address,
		CommandTimeout: opts.Timeout,
		MaxRetries:     opts.Retries,
		StrictCRC:      opts.StrictCRC,
	})
	if err := c.Connect(ctx, opts.IP, opts.Port); err != nil {
		return err
	}
	defer c.Disconnect()
	return fn(ctx, c)
}

// render writes v as indented JSON or runs text for the human format.
func render(w io.Writer, opts *rootOptions, v any, text func(w io.Writer)) error {
	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
