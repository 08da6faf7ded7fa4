package protocol

import (
	"sync"

	"github.com/danmuck/atrpc/internal/logging"
	"github.com/danmuck/atrpc/internal/protocol/checksum"
	"github.com/danmuck/atrpc/internal/protocol/frame"
	"github.com/rs/zerolog"
)

// Engine packs and unpacks frames and owns one sequence counter.
type Engine struct {
	table  *checksum.Table
	policy ChecksumPolicy
	limits frame.Limits
	role   string
	logger zerolog.Logger

	seqMu sync.Mutex
	seq   uint32
}

type Option func(*Engine)

func WithChecksumTable(t *checksum.Table) Option {
	return func(e *Engine) {
		if t != nil {
			e.table = t
		}
	}
}

func WithChecksumPolicy(p ChecksumPolicy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

func WithLimits(l frame.Limits) Option {
	return func(e *Engine) {
		e.limits = l
	}
}

// WithRole labels logs and metrics, typically "server" or "client".
func WithRole(role string) Option {
	return func(e *Engine) {
		e.role = role
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		table:  checksum.Default(),
		policy: ChecksumLenient,
		limits: frame.DefaultLimits(),
		role:   "peer",
	}
	e.logger = logging.Component("protocol")
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With().Str("role", e.role).Logger()
	return e
}

// NextSequence returns the next correlation number. It starts at 1 and never returns 0.
func (e *Engine) NextSequence() uint32 {
	e.seqMu.Lock()
	defer e.seqMu.Unlock()
	e.seq++
	if e.seq == 0 {
		e.seq = 1
	}
	return e.seq
}

func (e *Engine) Limits() frame.Limits {
	return e.limits
}

func (e *Engine) Policy() ChecksumPolicy {
	return e.policy
}
