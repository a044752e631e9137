package relay

import (
	"errors"
	"log/slog"

	"github.com/manpreetbhatti/coderelay/internal/protocol"
	"github.com/manpreetbhatti/coderelay/internal/room"
)

type State int

const (
	StateUnjoined State = iota
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnjoined:
		return "unjoined"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one connection's view of the protocol. It is not safe for
// concurrent use; the connection's read loop owns it.
type Session struct {
	d      *Dispatcher
	conn   room.Member
	logger *slog.Logger

	state State
	room  *room.Room
}

func (s *Session) State() State { return s.state }

// Room is the joined room, or nil.
func (s *Session) Room() *room.Room { return s.room }

// Handle processes one inbound frame. Rejections are reported to the sender
// with an error frame and returned; they never end the session.
func (s *Session) Handle(data []byte) error {
	if s.state == StateClosed {
		return ErrClosed
	}

	// Anything but a join is refused before joining, well-formed or not.
	typ, err := protocol.Peek(data)
	if err != nil {
		return s.rejectInvalid(err)
	}
	if s.state != StateJoined && typ != protocol.TypeJoin {
		s.d.metrics.MessageRejected("not_joined")
		s.reply(protocol.Error{Message: protocol.MsgNotJoined})
		return ErrNotJoined
	}

	msg, err := protocol.Decode(data)
	if err != nil {
		return s.rejectInvalid(err)
	}

	if join, ok := msg.(protocol.Join); ok {
		s.join(join.RoomID)
		s.d.metrics.MessageHandled(string(msg.Type()))
		return nil
	}

	payload, err := s.outbound(msg)
	if err != nil {
		s.logger.Error("relay.encode", "type", msg.Type(), "err", err)
		s.d.metrics.MessageRejected("invalid")
		s.reply(protocol.Error{Message: protocol.MsgInvalid})
		return err
	}

	var delivery room.Delivery
	switch m := msg.(type) {
	case protocol.InitProject:
		delivery = s.room.ReplaceProject(s.conn, m.Files, payload)
	case protocol.Edit:
		delivery = s.room.Edit(s.conn, m.Path, m.Content, payload)
	case protocol.Cursor:
		delivery = s.room.Broadcast(s.conn, payload)
	}

	s.d.metrics.MessageHandled(string(msg.Type()))
	if delivery.Dropped > 0 {
		s.d.metrics.DeliveriesDropped(delivery.Dropped)
		s.logger.Debug("relay.deliveries_dropped",
			"room", s.room.ID, "type", msg.Type(), "dropped", delivery.Dropped)
	}
	return nil
}

// outbound builds the frame peers receive for a room message.
func (s *Session) outbound(msg protocol.Message) ([]byte, error) {
	switch m := msg.(type) {
	case protocol.InitProject:
		return protocol.Encode(protocol.Init{Files: m.Files})
	case protocol.Edit, protocol.Cursor:
		return protocol.Encode(m)
	default:
		return nil, errors.New("relay: unexpected message type " + string(msg.Type()))
	}
}

// join binds the session to roomID. Joining again re-sends the snapshot;
// joining a different room leaves the current one first.
func (s *Session) join(roomID string) {
	if s.room != nil && s.room.ID != roomID {
		s.leave()
	}

	s.room = s.d.registry.Join(roomID, s.conn, s.d.welcome)
	s.state = StateJoined
	s.logger.Info("room.joined", "room", roomID, "members", s.room.Len())
}

func (s *Session) leave() {
	rm := s.room
	s.room = nil
	if s.d.registry.Leave(rm, s.conn) {
		s.logger.Info("room.closed", "room", rm.ID, "reason", "empty")
	} else {
		s.logger.Info("room.left", "room", rm.ID, "remaining", rm.Len())
	}
}

// Close handles a transport-level disconnect. Other members are not
// notified. Safe to call more than once.
func (s *Session) Close() {
	if s.state == StateClosed {
		return
	}
	if s.room != nil {
		s.leave()
	}
	s.state = StateClosed
}

func (s *Session) rejectInvalid(err error) error {
	s.d.metrics.MessageRejected("invalid")
	s.reply(protocol.Error{Message: protocol.MsgInvalid})
	return err
}

func (s *Session) reply(msg protocol.Message) {
	payload, err := protocol.Encode(msg)
	if err != nil {
		s.logger.Error("relay.encode", "type", msg.Type(), "err", err)
		return
	}
	if !s.conn.Send(payload) {
		s.logger.Debug("relay.reply_dropped", "type", msg.Type())
	}
}
