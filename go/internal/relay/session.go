package relay

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/slipstream-racing/slipstream/go/internal/protocol"
	"github.com/slipstream-racing/slipstream/go/internal/room"
)

type sessionState int

const (
	stateUnjoined sessionState = iota
	stateInRoom
	stateClosed
)

// Fanout delivers an already-encoded frame to a set of live
// connections by id. Implemented by ConnectionManager; faked in tests.
type Fanout interface {
	SendToMembers(ids []string, frame []byte)
}

// Session is the protocol state machine for one connection:
// Unjoined -> InRoom -> Closed. It translates inbound frames into
// registry operations and room-scoped broadcasts. Frames arrive one at
// a time from the read pump, but Close can race in from another
// goroutine dropping a slow consumer, so state is mutex-guarded.
type Session struct {
	id       string
	registry *room.Registry
	fanout   Fanout
	reply    func(frame []byte)

	mu       sync.Mutex
	state    sessionState
	roomCode string
}

// NewSession creates a session for connection id. reply sends a frame
// back on the session's own connection.
func NewSession(id string, registry *room.Registry, fanout Fanout, reply func(frame []byte)) *Session {
	return &Session{
		id:       id,
		registry: registry,
		fanout:   fanout,
		reply:    reply,
	}
}

// RoomCode returns the code of the room this session is in, or "".
func (s *Session) RoomCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomCode
}

// HandleFrame dispatches one inbound frame. Malformed frames are
// logged and dropped; they never terminate the connection.
func (s *Session) HandleFrame(raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateClosed {
		return
	}

	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Warn().Err(err).Str("connection_id", s.id).Msg("dropping malformed frame")
		return
	}

	switch env.Type {
	case protocol.TypeCreateRoom:
		s.handleCreateRoom(env.Seq)
	case protocol.TypeJoinRoom:
		s.handleJoinRoom(env.Seq, env.Data)
	case protocol.TypeRoomInfo:
		s.handleRoomInfo(env.Seq)
	case protocol.TypePlayerState:
		s.relayToPeers(protocol.TypePlayerState, env.Data)
	case protocol.TypePlayerAction:
		s.relayToPeers(protocol.TypePlayerAction, env.Data)
	default:
		log.Warn().
			Str("connection_id", s.id).
			Str("type", string(env.Type)).
			Msg("dropping frame of unknown type")
	}
}

func (s *Session) handleCreateRoom(seq uint64) {
	if s.state != stateUnjoined {
		s.reply(encodeFrame(protocol.TypeCreateRoomReply, seq, protocol.CreateRoomReply{
			Success: false,
			Error:   "Already in a room",
		}))
		return
	}

	code, err := s.registry.CreateRoom(s.id)
	if err != nil {
		s.reply(encodeFrame(protocol.TypeCreateRoomReply, seq, protocol.CreateRoomReply{
			Success: false,
			Error:   err.Error(),
		}))
		return
	}

	s.state = stateInRoom
	s.roomCode = code

	s.reply(encodeFrame(protocol.TypeCreateRoomReply, seq, protocol.CreateRoomReply{
		Success:  true,
		Code:     code,
		PlayerID: s.id,
	}))
}

func (s *Session) handleJoinRoom(seq uint64, data json.RawMessage) {
	if s.state != stateUnjoined {
		s.reply(encodeFrame(protocol.TypeJoinRoomReply, seq, protocol.JoinRoomReply{
			Success: false,
			Error:   "Already in a room",
		}))
		return
	}

	var req protocol.JoinRoomRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.reply(encodeFrame(protocol.TypeJoinRoomReply, seq, protocol.JoinRoomReply{
			Success: false,
			Error:   "Room not found",
		}))
		return
	}

	// Peers hear about the join inside the registry's critical
	// section, so a concurrently served room-info can never show the
	// new count ahead of the player-joined frame.
	res, err := s.registry.Join(req.Code, s.id, func(r room.JoinResult) {
		s.fanout.SendToMembers(r.ExistingMembers,
			encodeFrame(protocol.TypePlayerJoined, 0, protocol.PlayerRef{ID: s.id}))
	})
	switch err {
	case nil:
	case room.ErrRoomNotFound:
		s.reply(encodeFrame(protocol.TypeJoinRoomReply, seq, protocol.JoinRoomReply{
			Success: false,
			Error:   "Room not found",
		}))
		return
	case room.ErrRoomFull:
		s.reply(encodeFrame(protocol.TypeJoinRoomReply, seq, protocol.JoinRoomReply{
			Success: false,
			Error:   "Room is full",
		}))
		return
	default:
		s.reply(encodeFrame(protocol.TypeJoinRoomReply, seq, protocol.JoinRoomReply{
			Success: false,
			Error:   err.Error(),
		}))
		return
	}

	s.state = stateInRoom
	s.roomCode = res.Code

	s.reply(encodeFrame(protocol.TypeJoinRoomReply, seq, protocol.JoinRoomReply{
		Success:  true,
		Code:     res.Code,
		PlayerID: s.id,
		Players:  res.ExistingMembers,
	}))
}

func (s *Session) handleRoomInfo(seq uint64) {
	if s.state != stateInRoom {
		s.reply(encodeFrame(protocol.TypeRoomInfoReply, seq, protocol.RoomInfoReply{Success: false}))
		return
	}

	info, err := s.registry.RoomInfo(s.roomCode)
	if err != nil {
		s.reply(encodeFrame(protocol.TypeRoomInfoReply, seq, protocol.RoomInfoReply{Success: false}))
		return
	}

	s.reply(encodeFrame(protocol.TypeRoomInfoReply, seq, protocol.RoomInfoReply{
		Success:     true,
		PlayerCount: info.MemberCount,
		MaxPlayers:  info.MaxMembers,
	}))
}

// relayToPeers fans a fire-and-forget payload out to every other room
// member with the sender id injected. Silently ignored when the
// session is not in a room.
func (s *Session) relayToPeers(t protocol.MessageType, data json.RawMessage) {
	if s.state != stateInRoom {
		return
	}

	payload, err := injectSenderID(data, s.id)
	if err != nil {
		log.Warn().Err(err).Str("connection_id", s.id).Msg("dropping unparseable relay payload")
		return
	}

	peers := s.registry.Members(s.roomCode, s.id)
	if len(peers) == 0 {
		return
	}

	frame, err := json.Marshal(protocol.Envelope{Type: t, Data: payload})
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal relay frame")
		return
	}
	s.fanout.SendToMembers(peers, frame)
}

// Close transitions to Closed, removes the session from its room, and
// notifies remaining peers. Idempotent; safe to call for a session
// that never joined anything.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateClosed {
		return
	}
	prev := s.state
	s.state = stateClosed

	if prev != stateInRoom || s.roomCode == "" {
		return
	}

	// The player-left broadcast is enqueued inside the registry's
	// critical section, mirroring the join path.
	s.registry.Leave(s.roomCode, s.id, func(remaining []string) {
		s.fanout.SendToMembers(remaining,
			encodeFrame(protocol.TypePlayerLeft, 0, protocol.PlayerRef{ID: s.id}))
	})
}

// injectSenderID sets "id" on an arbitrary JSON object without
// touching its other fields, so unknown state fields pass through the
// relay untouched.
func injectSenderID(data json.RawMessage, id string) (json.RawMessage, error) {
	var obj map[string]any
	if len(data) > 0 {
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, err
		}
	}
	if obj == nil {
		obj = make(map[string]any, 1)
	}
	obj["id"] = id
	return json.Marshal(obj)
}

// encodeFrame marshals an envelope with its payload. Marshal failures
// here would be programmer errors on our own types; they degrade to an
// empty frame rather than panicking mid-broadcast.
func encodeFrame(t protocol.MessageType, seq uint64, payload any) []byte {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("type", string(t)).Msg("failed to marshal payload")
		data = []byte("{}")
	}
	frame, err := json.Marshal(protocol.Envelope{Type: t, Seq: seq, Data: data})
	if err != nil {
		log.Error().Err(err).Str("type", string(t)).Msg("failed to marshal envelope")
		return []byte("{}")
	}
	return frame
}
