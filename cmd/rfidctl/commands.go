package main

import (
	"context"
	"fmt"
	"io"
	"net/netip"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/BearBump/TagGuard/internal/rfid/command"
	"github.com/BearBump/TagGuard/internal/rfid/reader"
)

func newInfoCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show hardware, firmware and serial number",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReader(cmd, opts, func(ctx context.Context, c *reader.Conn) error {
				info, err := c.GetReaderInfo(ctx)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts, info, func(w io.Writer) {
					fmt.Fprintf(w, "hardware: %s\nfirmware: %s\nserial:   %s\n", info.Hardware, info.Firmware, info.Serial)
				})
			})
		},
	}
}

func newPowerCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "power [dbm]",
		Short: "Read or set RF output power",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set := -1
			if len(args) == 1 {
				dbm, err := strconv.Atoi(args[0])
				if err != nil || dbm < 0 || dbm > command.MaxPowerDBm {
					return fmt.Errorf("power must be 0..%d dBm, got %q", command.MaxPowerDBm, args[0])
				}
				set = dbm
			}
			return withReader(cmd, opts, func(ctx context.Context, c *reader.Conn) error {
				if set >= 0 {
					if err := c.SetPower(ctx, set); err != nil {
						return err
					}
				}
				dbm, err := c.GetPower(ctx)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts, map[string]int{"dbm": dbm}, func(w io.Writer) {
					fmt.Fprintf(w, "power: %d dBm\n", dbm)
				})
			})
		},
	}
}

func newNetworkCommand(opts *rootOptions) *cobra.Command {
	var ip, mask, gateway string
	var port uint16

	show := func(n command.NetworkConfig) func(io.Writer) {
		return func(w io.Writer) {
			fmt.Fprintf(w, "ip:      %s\nmask:    %s\ngateway: %s\nport:    %d\n", n.IP, n.Mask, n.Gateway, n.Port)
			if n.MAC != "" {
				fmt.Fprintf(w, "mac:     %s\n", n.MAC)
			}
		}
	}

	cmd := &cobra.Command{
		Use:   "network",
		Short: "Read the reader's IPv4 configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReader(cmd, opts, func(ctx context.Context, c *reader.Conn) error {
				n, err := c.GetNetworkConfig(ctx)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts, n, show(n))
			})
		},
	}

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Write a new IPv4 configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var n command.NetworkConfig
			var err error
			if n.IP, err = netip.ParseAddr(ip); err != nil {
				return fmt.Errorf("--new-ip: %w", err)
			}
			if n.Mask, err = netip.ParseAddr(mask); err != nil {
				return fmt.Errorf("--mask: %w", err)
			}
			if n.Gateway, err = netip.ParseAddr(gateway); err != nil {
				return fmt.Errorf("--gateway: %w", err)
			}
			n.Port = port
			return withReader(cmd, opts, func(ctx context.Context, c *reader.Conn) error {
				if err := c.SetNetworkConfig(ctx, n); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "network configuration written; the reader restarts its interface")
				return nil
			})
		},
	}
	setCmd.Flags().StringVar(&ip, "new-ip", "", "new reader IP address")
	setCmd.Flags().StringVar(&mask, "mask", "255.255.255.0", "subnet mask")
	setCmd.Flags().StringVar(&gateway, "gateway", "", "default gateway")
	setCmd.Flags().Uint16Var(&port, "new-port", 4001, "new TCP port")
	cmd.AddCommand(setCmd)

	return cmd
}

func newGPIOCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gpio",
		Short: "Read GPIO input and output levels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReader(cmd, opts, func(ctx context.Context, c *reader.Conn) error {
				g, err := c.GetGPIO(ctx)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts, g, func(w io.Writer) {
					fmt.Fprintf(w, "inputs:  %08b\noutputs: %08b\n", g.Inputs, g.Outputs)
				})
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <pin> <high|low>",
		Short: "Drive one output pin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pin, err := strconv.Atoi(args[0])
			if err != nil || pin < 0 || pin > 7 {
				return fmt.Errorf("pin must be 0..7, got %q", args[0])
			}
			high, err := parseLevel(args[1], "high", "low")
			if err != nil {
				return err
			}
			return withReader(cmd, opts, func(ctx context.Context, c *reader.Conn) error {
				return c.SetGPIO(ctx, pin, high)
			})
		},
	})

	return cmd
}

func newRelayCommand(opts *rootOptions) *cobra.Command {
	var hold int

	cmd := &cobra.Command{
		Use:   "relay <relay> <close|open>",
		Short: "Switch a relay, optionally for a hold time",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			relay, err := strconv.Atoi(args[0])
			if err != nil || relay < 0 || relay > 3 {
				return fmt.Errorf("relay must be 0..3, got %q", args[0])
			}
			closed, err := parseLevel(args[1], "close", "open")
			if err != nil {
				return err
			}
			if hold < 0 || hold > 255 {
				return fmt.Errorf("hold must be 0..255 seconds")
			}
			return withReader(cmd, opts, func(ctx context.Context, c *reader.Conn) error {
				return c.ControlRelay(ctx, relay, closed, hold)
			})
		},
	}
	cmd.Flags().IntVar(&hold, "hold", 0, "seconds before the relay reverts (0 keeps it)")

	return cmd
}

func newGateModeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "gate-mode [answer|active|trigger]",
		Short: "Read or set the reader working mode",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var set *command.GateMode
			if len(args) == 1 {
				m, err := command.ParseGateMode(args[0])
				if err != nil {
					return err
				}
				set = &m
			}
			return withReader(cmd, opts, func(ctx context.Context, c *reader.Conn) error {
				if set != nil {
					if err := c.SetGateMode(ctx, *set); err != nil {
						return err
					}
				}
				m, err := c.GetGateMode(ctx)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts, map[string]string{"mode": m.String()}, func(w io.Writer) {
					fmt.Fprintf(w, "gate mode: %s\n", m)
				})
			})
		},
	}
}

func newParamsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "params",
		Short: "Dump the full parameter block",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReader(cmd, opts, func(ctx context.Context, c *reader.Conn) error {
				p, err := c.GetAllParams(ctx)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts, p, func(w io.Writer) {
					fmt.Fprintf(w, "address:      0x%02X\n", p.Address)
					fmt.Fprintf(w, "work mode:    %s\n", p.WorkMode)
					fmt.Fprintf(w, "antenna mask: %04b\n", p.AntennaMask)
					fmt.Fprintf(w, "region:       %d\n", p.Region)
					fmt.Fprintf(w, "power:        %d dBm\n", p.Power)
					fmt.Fprintf(w, "q:            %d\n", p.Q)
					fmt.Fprintf(w, "session:      %d\n", p.Session)
					fmt.Fprintf(w, "buzzer:       %t\n", p.Buzzer)
				})
			})
		},
	}
}

func parseLevel(s, on, off string) (bool, error) {
	switch s {
	case on:
		return true, nil
	case off:
		return false, nil
	}
	return false, fmt.Errorf("expected %s or %s, got %q", on, off, s)
}
