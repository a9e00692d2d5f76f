package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/BearBump/TagGuard/internal/models"
	"github.com/BearBump/TagGuard/internal/rfid/reader"
)

func newScanCommand(opts *rootOptions) *cobra.Command {
	var (
		mode     string
		duration time.Duration
		interval time.Duration
		unique   bool
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run the scan loop and print tags as they are read",
		Long: `Run the scan loop and print every tag read until the duration
elapses or the command is interrupted. In passive mode the reader must
already push inventory reports on its own.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := reader.ParseScanMode(mode)
			if err != nil {
				return err
			}
			return withReader(cmd, opts, func(ctx context.Context, c *reader.Conn) error {
				if duration > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, duration)
					defer cancel()
				}

				tags := make(chan models.TagRead, 64)
				done, err := c.StartScanning(ctx, reader.ScanOptions{Mode: m, Interval: interval}, tags)
				if err != nil {
					return err
				}
				defer c.StopScanning()

				w := cmd.OutOrStdout()
				enc := json.NewEncoder(w)
				seen := make(map[string]bool)
				for {
					select {
					case <-ctx.Done():
						fmt.Fprintf(cmd.ErrOrStderr(), "%d unique tag(s)\n", len(seen))
						return nil
					case <-done:
						return c.ScanErr()
					case t := <-tags:
						if unique && seen[t.EPC] {
							continue
						}
						seen[t.EPC] = true
						if opts.Format == "json" {
							if err := enc.Encode(t); err != nil {
								return err
							}
							continue
						}
						fmt.Fprintf(w, "%s  %s  rssi=%d  ant=%d\n",
							t.Timestamp.Format("15:04:05.000"), t.EPC, t.RSSI, t.AntennaPort)
					}
				}
			})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "active", "scan mode (active|passive)")
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	cmd.Flags().DurationVar(&interval, "interval", 100*time.Millisecond, "pause between active inventory rounds")
	cmd.Flags().BoolVar(&unique, "unique", false, "print each EPC only once")

	return cmd
}
