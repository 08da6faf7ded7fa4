package main

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/atrpc/internal/client"
	"github.com/danmuck/atrpc/internal/config"
	"github.com/spf13/cobra"
)

func callCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		codec      string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "call <func> [args...]",
		Short: "Call one function and print its result",
		Long: `Call one function on a running server and print the JSON result.
Numeric arguments are sent as numbers, everything else as strings.

Examples:
  atrpc call add 10 20
  atrpc call --addr 10.0.0.5:6006 divide 1 0`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := clientConfig(configPath, addr, codec, timeout)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			result, err := client.CallOnce(ctx, cfg, args[0], parseCallArgs(args[1:])...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(result))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "client TOML config path")
	cmd.Flags().StringVarP(&addr, "addr", "a", "", "server address host:port")
	cmd.Flags().StringVar(&codec, "codec", "", "payload codec: json or tlv (must match the server)")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "call timeout (default from config)")

	return cmd
}

func clientConfig(path, addr, codec string, timeout time.Duration) (client.Config, error) {
	cfg := client.DefaultConfig()
	if path = strings.TrimSpace(path); path != "" {
		loaded, err := config.LoadClient(path)
		if err != nil {
			return client.Config{}, err
		}
		cfg = loaded
	}
	if addr = strings.TrimSpace(addr); addr != "" {
		cfg.Address = addr
	}
	if codec = strings.TrimSpace(codec); codec != "" {
		cfg.Codec = strings.ToLower(codec)
	}
	if timeout > 0 {
		cfg.Session.CallTimeout = timeout
	}
	return cfg, config.ValidateClient(cfg)
}

// parseCallArgs sends finite numbers as float64 and everything else verbatim,
// so "nan" and "inf" stay strings.
func parseCallArgs(raw []string) []any {
	out := make([]any, 0, len(raw))
	for _, s := range raw {
		if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			out = append(out, f)
			continue
		}
		out = append(out, s)
	}
	return out
}
