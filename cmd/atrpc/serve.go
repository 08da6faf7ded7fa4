package main

import (
	"strings"

	"github.com/danmuck/atrpc/internal/config"
	"github.com/danmuck/atrpc/internal/protocol"
	"github.com/danmuck/atrpc/internal/server"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		adminAddr  string
		codec      string
		strict     bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the RPC server until interrupted",
		Long: `Run the RPC server with the built-in calculator functions
(add, subtract/sub, multiply/mul, divide/div). Flags override the config file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := serverConfig(configPath, addr, adminAddr, codec, strict)
			if err != nil {
				return err
			}
			return server.New(cfg).Run()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "server TOML config path")
	cmd.Flags().StringVarP(&addr, "addr", "a", "", "listen address host:port")
	cmd.Flags().StringVar(&adminAddr, "admin", "", "admin HTTP listen address (empty disables)")
	cmd.Flags().StringVar(&codec, "codec", "", "payload codec: json or tlv")
	cmd.Flags().BoolVar(&strict, "strict-checksum", false, "reject frames whose checksum does not match")

	return cmd
}

func serverConfig(path, addr, adminAddr, codec string, strict bool) (server.Config, error) {
	cfg := server.DefaultConfig()
	if path = strings.TrimSpace(path); path != "" {
		loaded, err := config.LoadServer(path)
		if err != nil {
			return server.Config{}, err
		}
		cfg = loaded
	}
	if addr = strings.TrimSpace(addr); addr != "" {
		cfg.ListenAddr = addr
	}
	if adminAddr = strings.TrimSpace(adminAddr); adminAddr != "" {
		cfg.AdminListenAddr = adminAddr
	}
	if codec = strings.TrimSpace(codec); codec != "" {
		cfg.Codec = strings.ToLower(codec)
	}
	if strict {
		cfg.ChecksumPolicy = protocol.ChecksumStrict
	}
	return cfg, config.ValidateServer(cfg)
}
