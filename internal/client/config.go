package client

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/atrpc/internal/protocol"
	"github.com/danmuck/atrpc/internal/protocol/frame"
	"github.com/danmuck/atrpc/internal/protocol/payload"
	"github.com/danmuck/atrpc/internal/protocol/session"
)

const DefaultHistoryLimit = 1000

var (
	ErrAddressRequired = errors.New("client: server address required")
	ErrNotConnected    = fmt.Errorf("%w: client not connected", protocol.ErrTransport)
)

// Config describes how a client reaches one server.
type Config struct {
	Address        string
	ChecksumPolicy protocol.ChecksumPolicy
	// Codec names the payload encoding and must match the server's.
	Codec   string
	Limits  frame.Limits
	Session session.Config

	// Reconnect redials after connection loss using Session.Backoff.
	Reconnect bool
	// MaxReconnectAttempts bounds one reconnect episode. Zero retries forever.
	MaxReconnectAttempts int
	HistoryLimit         int
}

func DefaultConfig() Config {
	return Config{
		Address:        "127.0.0.1:6006",
		ChecksumPolicy: protocol.ChecksumLenient,
		Codec:          payload.CodecJSON,
		Limits:         frame.DefaultLimits(),
		Session:        session.DefaultConfig(),
		HistoryLimit:   DefaultHistoryLimit,
	}
}

func (c Config) normalize() (Config, error) {
	c.Address = strings.TrimSpace(c.Address)
	if c.Address == "" {
		return c, ErrAddressRequired
	}
	if _, err := payload.ByName(c.Codec); err != nil {
		return c, err
	}
	c.Session = c.Session.WithDefaults()
	if c.Limits.MaxBodyBytes == 0 {
		c.Limits = frame.DefaultLimits()
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}
	if c.MaxReconnectAttempts < 0 {
		c.MaxReconnectAttempts = 0
	}
	return c, nil
}

func (c Config) newEngine() *protocol.Engine {
	return protocol.NewEngine(
		protocol.WithRole("client"),
		protocol.WithChecksumPolicy(c.ChecksumPolicy),
		protocol.WithLimits(c.Limits),
	)
}

func (c Config) newCodec() payload.Codec {
	codec, err := payload.ByName(c.Codec)
	if err != nil {
		return payload.JSON{}
	}
	return codec
}
