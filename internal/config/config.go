// Package config loads and validates atrpc server and client TOML files.
package config

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/atrpc/internal/client"
	"github.com/danmuck/atrpc/internal/protocol"
	"github.com/danmuck/atrpc/internal/protocol/payload"
	"github.com/danmuck/atrpc/internal/server"
)

var ErrInvalidConfig = errors.New("config: invalid")

// ServerFile is the server.toml key mapping. Durations use time.ParseDuration syntax.
type ServerFile struct {
	Name           string   `toml:"name"`
	Addr           string   `toml:"addr"`
	AdminAddr      string   `toml:"admin_addr"`
	CORSOrigins    []string `toml:"cors_origins"`
	ChecksumPolicy string   `toml:"checksum_policy"`
	Codec          string   `toml:"codec"`
	MaxBodyBytes   int64    `toml:"max_body_bytes"`
	Builtins       bool     `toml:"builtins"`
	ReadTimeout    string   `toml:"read_timeout"`
	WriteTimeout   string   `toml:"write_timeout"`
}

// ClientFile is the client.toml key mapping.
type ClientFile struct {
	Addr                 string  `toml:"addr"`
	ChecksumPolicy       string  `toml:"checksum_policy"`
	Codec                string  `toml:"codec"`
	MaxBodyBytes         int64   `toml:"max_body_bytes"`
	DialTimeout          string  `toml:"dial_timeout"`
	CallTimeout          string  `toml:"call_timeout"`
	WriteTimeout         string  `toml:"write_timeout"`
	Reconnect            bool    `toml:"reconnect"`
	MaxReconnectAttempts int     `toml:"max_reconnect_attempts"`
	HistoryLimit         int     `toml:"history_limit"`
	BackoffInitial       string  `toml:"backoff_initial"`
	BackoffMax           string  `toml:"backoff_max"`
	BackoffMultiplier    float64 `toml:"backoff_multiplier"`
	BackoffJitter        bool    `toml:"backoff_jitter"`
}

// LoadServer reads path and overlays the keys it defines onto server.DefaultConfig.
func LoadServer(path string) (server.Config, error) {
	cfg := server.DefaultConfig()

	var raw ServerFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return server.Config{}, fmt.Errorf("load server config: %w", err)
	}
	if err := rejectUndecoded(meta); err != nil {
		return server.Config{}, fmt.Errorf("load server config %s: %w", path, err)
	}

	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminListenAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = trimAll(raw.CORSOrigins)
	}
	if meta.IsDefined("builtins") {
		cfg.Builtins = raw.Builtins
	}
	if meta.IsDefined("codec") {
		cfg.Codec = strings.ToLower(strings.TrimSpace(raw.Codec))
	}

	var errs []error
	if meta.IsDefined("checksum_policy") {
		p, ok := protocol.ParseChecksumPolicy(raw.ChecksumPolicy)
		if !ok {
			errs = append(errs, fmt.Errorf("checksum_policy %q (expected lenient or strict)", raw.ChecksumPolicy))
		}
		cfg.ChecksumPolicy = p
	}
	if meta.IsDefined("max_body_bytes") {
		n, err := bodyLimit(raw.MaxBodyBytes)
		errs = append(errs, err)
		cfg.Limits.MaxBodyBytes = n
	}
	if meta.IsDefined("read_timeout") {
		cfg.Session.ReadTimeout, err = parseDuration("read_timeout", raw.ReadTimeout)
		errs = append(errs, err)
	}
	if meta.IsDefined("write_timeout") {
		cfg.Session.WriteTimeout, err = parseDuration("write_timeout", raw.WriteTimeout)
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return server.Config{}, fmt.Errorf("load server config %s: %w: %w", path, ErrInvalidConfig, err)
	}

	cfg.Session = cfg.Session.WithDefaults()
	if err := ValidateServer(cfg); err != nil {
		return server.Config{}, fmt.Errorf("load server config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadClient reads path and overlays the keys it defines onto client.DefaultConfig.
func LoadClient(path string) (client.Config, error) {
	cfg := client.DefaultConfig()

	var raw ClientFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return client.Config{}, fmt.Errorf("load client config: %w", err)
	}
	if err := rejectUndecoded(meta); err != nil {
		return client.Config{}, fmt.Errorf("load client config %s: %w", path, err)
	}

	if meta.IsDefined("addr") {
		cfg.Address = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("codec") {
		cfg.Codec = strings.ToLower(strings.TrimSpace(raw.Codec))
	}
	if meta.IsDefined("reconnect") {
		cfg.Reconnect = raw.Reconnect
	}
	if meta.IsDefined("max_reconnect_attempts") {
		cfg.MaxReconnectAttempts = raw.MaxReconnectAttempts
	}
	if meta.IsDefined("history_limit") {
		cfg.HistoryLimit = raw.HistoryLimit
	}
	if meta.IsDefined("backoff_multiplier") {
		cfg.Session.Backoff.Multiplier = raw.BackoffMultiplier
	}
	if meta.IsDefined("backoff_jitter") {
		cfg.Session.Backoff.Jitter = raw.BackoffJitter
	}

	var errs []error
	if meta.IsDefined("checksum_policy") {
		p, ok := protocol.ParseChecksumPolicy(raw.ChecksumPolicy)
		if !ok {
			errs = append(errs, fmt.Errorf("checksum_policy %q (expected lenient or strict)", raw.ChecksumPolicy))
		}
		cfg.ChecksumPolicy = p
	}
	if meta.IsDefined("max_body_bytes") {
		n, err := bodyLimit(raw.MaxBodyBytes)
		errs = append(errs, err)
		cfg.Limits.MaxBodyBytes = n
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"dial_timeout", raw.DialTimeout, &cfg.Session.DialTimeout},
		{"call_timeout", raw.CallTimeout, &cfg.Session.CallTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.Session.WriteTimeout},
		{"backoff_initial", raw.BackoffInitial, &cfg.Session.Backoff.InitialDelay},
		{"backoff_max", raw.BackoffMax, &cfg.Session.Backoff.MaxDelay},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := parseDuration(d.key, d.raw)
		errs = append(errs, err)
		*d.dst = v
	}
	if err := errors.Join(errs...); err != nil {
		return client.Config{}, fmt.Errorf("load client config %s: %w: %w", path, ErrInvalidConfig, err)
	}

	if err := ValidateClient(cfg); err != nil {
		return client.Config{}, fmt.Errorf("load client config %s: %w", path, err)
	}
	return cfg, nil
}

func ValidateServer(cfg server.Config) error {
	var errs []error
	if strings.TrimSpace(cfg.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if err := validateAddr("addr", cfg.ListenAddr, true); err != nil {
		errs = append(errs, err)
	}
	if err := validateAddr("admin_addr", cfg.AdminListenAddr, false); err != nil {
		errs = append(errs, err)
	}
	if _, err := payload.ByName(cfg.Codec); err != nil {
		errs = append(errs, err)
	}
	if cfg.AdminListenAddr != "" && cfg.AdminListenAddr == cfg.ListenAddr {
		errs = append(errs, errors.New("admin_addr must differ from addr"))
	}
	if cfg.Session.ReadTimeout < 0 || cfg.Session.WriteTimeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func ValidateClient(cfg client.Config) error {
	var errs []error
	if err := validateAddr("addr", cfg.Address, true); err != nil {
		errs = append(errs, err)
	}
	if _, err := payload.ByName(cfg.Codec); err != nil {
		errs = append(errs, err)
	}
	if cfg.HistoryLimit < 0 {
		errs = append(errs, errors.New("history_limit must not be negative"))
	}
	if cfg.MaxReconnectAttempts < 0 {
		errs = append(errs, errors.New("max_reconnect_attempts must not be negative"))
	}
	if cfg.Session.Backoff.Multiplier != 0 && cfg.Session.Backoff.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("backoff_multiplier %v must be >= 1", cfg.Session.Backoff.Multiplier))
	}
	if b := cfg.Session.Backoff; b.MaxDelay > 0 && b.InitialDelay > b.MaxDelay {
		errs = append(errs, errors.New("backoff_initial must not exceed backoff_max"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func validateAddr(key, addr string, required bool) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		if required {
			return fmt.Errorf("%s is required", key)
		}
		return nil
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%s %q: %w", key, addr, err)
	}
	return nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s %q: %w", key, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s %q must not be negative", key, raw)
	}
	return d, nil
}

func bodyLimit(n int64) (uint32, error) {
	if n <= 0 || n > int64(^uint32(0)) {
		return 0, fmt.Errorf("max_body_bytes %d out of range", n)
	}
	return uint32(n), nil
}

func rejectUndecoded(meta toml.MetaData) error {
	undecoded := meta.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}
	keys := make([]string, 0, len(undecoded))
	for _, k := range undecoded {
		keys = append(keys, k.String())
	}
	sort.Strings(keys)
	return fmt.Errorf("%w: unknown keys %s", ErrInvalidConfig, strings.Join(keys, ", "))
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
