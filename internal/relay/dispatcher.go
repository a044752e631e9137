// Package relay implements the per-connection protocol state machine.
//
// A Dispatcher holds what every connection shares (the room registry,
// logger and metrics). Each connection gets its own Session, which decodes
// frames, enforces the join precondition, mutates room state and triggers
// broadcasts. A Session is driven by one goroutine at a time.
package relay

import (
	"errors"
	"log/slog"

	"github.com/manpreetbhatti/coderelay/internal/metrics"
	"github.com/manpreetbhatti/coderelay/internal/protocol"
	"github.com/manpreetbhatti/coderelay/internal/room"
)

var (
	// ErrNotJoined is returned for room messages sent before a join.
	ErrNotJoined = errors.New(protocol.MsgNotJoined)

	// ErrClosed is returned for frames handled after Close.
	ErrClosed = errors.New("session closed")
)

type Dispatcher struct {
	registry *room.Registry
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewDispatcher(registry *room.Registry, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		logger:   logger,
		metrics:  m,
	}
}

func (d *Dispatcher) Registry() *room.Registry { return d.registry }

// Open starts an UNJOINED session for conn.
func (d *Dispatcher) Open(conn room.Member) *Session {
	return &Session{
		d:      d,
		conn:   conn,
		logger: d.logger.With("client", conn.ID()),
		state:  StateUnjoined,
	}
}

// welcome encodes the init frame a joiner receives for a non-empty room.
func (d *Dispatcher) welcome(files map[string]string) []byte {
	payload, err := protocol.Encode(protocol.Init{Files: files})
	if err != nil {
		d.logger.Error("relay.encode_init", "err", err)
		return nil
	}
	return payload
}
