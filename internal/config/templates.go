package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/atrpc/internal/client"
	"github.com/danmuck/atrpc/internal/server"
	"github.com/pelletier/go-toml/v2"
)

const (
	KindServer = "server"
	KindClient = "client"
)

// ServerFileFrom maps a runtime config back to its file form.
func ServerFileFrom(cfg server.Config) ServerFile {
	origins := cfg.CORSOrigins
	if origins == nil {
		origins = []string{}
	}
	return ServerFile{
		Name:           cfg.Name,
		Addr:           cfg.ListenAddr,
		AdminAddr:      cfg.AdminListenAddr,
		CORSOrigins:    origins,
		ChecksumPolicy: cfg.ChecksumPolicy.String(),
		Codec:          cfg.Codec,
		MaxBodyBytes:   int64(cfg.Limits.MaxBodyBytes),
		Builtins:       cfg.Builtins,
		ReadTimeout:    formatDuration(cfg.Session.ReadTimeout),
		WriteTimeout:   formatDuration(cfg.Session.WriteTimeout),
	}
}

func ClientFileFrom(cfg client.Config) ClientFile {
	return ClientFile{
		Addr:                 cfg.Address,
		ChecksumPolicy:       cfg.ChecksumPolicy.String(),
		Codec:                cfg.Codec,
		MaxBodyBytes:         int64(cfg.Limits.MaxBodyBytes),
		DialTimeout:          formatDuration(cfg.Session.DialTimeout),
		CallTimeout:          formatDuration(cfg.Session.CallTimeout),
		WriteTimeout:         formatDuration(cfg.Session.WriteTimeout),
		Reconnect:            cfg.Reconnect,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		HistoryLimit:         cfg.HistoryLimit,
		BackoffInitial:       formatDuration(cfg.Session.Backoff.InitialDelay),
		BackoffMax:           formatDuration(cfg.Session.Backoff.MaxDelay),
		BackoffMultiplier:    cfg.Session.Backoff.Multiplier,
		BackoffJitter:        cfg.Session.Backoff.Jitter,
	}
}

// Template renders the default config for kind as TOML.
func Template(kind string) ([]byte, error) {
	var (
		header string
		doc    any
	)
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindServer:
		header = "# atrpc server configuration\n"
		doc = ServerFileFrom(server.DefaultConfig())
	case KindClient:
		header = "# atrpc client configuration\n"
		doc = ClientFileFrom(client.DefaultConfig())
	default:
		return nil, fmt.Errorf("unknown config kind: %s", kind)
	}

	var buf bytes.Buffer
	buf.WriteString(header)
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("render %s template: %w", kind, err)
	}
	return buf.Bytes(), nil
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, template, 0o600)
}

// Check loads path as kind and reports the first problem found.
func Check(path, kind string) error {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindServer:
		_, err := LoadServer(path)
		return err
	case KindClient:
		_, err := LoadClient(path)
		return err
	default:
		return fmt.Errorf("unknown config kind: %s", kind)
	}
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "0"
	}
	return d.String()
}
