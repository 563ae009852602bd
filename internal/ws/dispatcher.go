package ws

import (
	"github.com/rs/zerolog"

	"github.com/handoff/relay/internal/protocol"
)

// Dispatcher handles text frames sent by watchers. Watchers are read-only, so
// the only request understood is ping; everything else gets an error reply.
type Dispatcher struct {
	log zerolog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(log zerolog.Logger) *Dispatcher {
	return &Dispatcher{log: log}
}

// Dispatch parses data and answers it on conn.
func (d *Dispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, _, err := protocol.ParseClientMessage(data)
	if err != nil {
		d.log.Debug().Err(err).Str("watcher", conn.ID).Str("type", msgType).Msg("rejected client message")
		d.sendError(conn, protocol.CodeBadMessage, "unsupported or malformed message")
		return
	}

	if msgType == protocol.TypePing {
		d.send(conn, protocol.TypePong, protocol.PongMsg{})
	}
}

func (d *Dispatcher) sendError(conn *Connection, code, message string) {
	d.send(conn, protocol.TypeError, protocol.ErrorMsg{Code: code, Message: message})
}

func (d *Dispatcher) send(conn *Connection, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		d.log.Error().Err(err).Str("type", msgType).Msg("failed to build message")
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		d.log.Debug().Err(err).Str("watcher", conn.ID).Str("type", msgType).Msg("failed to send message")
	}
}
