package protocol

import "encoding/json"

// MessageType identifies a frame on the wire.
type MessageType string

const (
	// Client -> server requests. Each carries a seq and is answered by
	// the matching -reply type echoing that seq.
	TypeCreateRoom MessageType = "create-room"
	TypeJoinRoom   MessageType = "join-room"
	TypeRoomInfo   MessageType = "room-info"

	TypeCreateRoomReply MessageType = "create-room-reply"
	TypeJoinRoomReply   MessageType = "join-room-reply"
	TypeRoomInfoReply   MessageType = "room-info-reply"

	// Fire-and-forget, client -> server -> room peers. The relay
	// injects the sender id and never echoes back to the sender.
	TypePlayerState  MessageType = "player-state"
	TypePlayerAction MessageType = "player-action"

	// Server -> room peers membership events.
	TypePlayerJoined MessageType = "player-joined"
	TypePlayerLeft   MessageType = "player-left"
)

// Envelope is the outer shape of every frame: a type tag, an optional
// request/reply correlation seq, and the type-specific payload.
type Envelope struct {
	Type MessageType     `json:"type"`
	Seq  uint64          `json:"seq,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// JoinRoomRequest asks to join an existing room by code. Codes are
// case-insensitive on input.
type JoinRoomRequest struct {
	Code string `json:"code"`
}

// CreateRoomReply answers create-room.
type CreateRoomReply struct {
	Success  bool   `json:"success"`
	Code     string `json:"code,omitempty"`
	PlayerID string `json:"playerId,omitempty"`
	Error    string `json:"error,omitempty"`
}

// JoinRoomReply answers join-room. Players lists the ids already in the
// room, in join order, so the joiner can spawn placeholders before any
// snapshot arrives.
type JoinRoomReply struct {
	Success  bool     `json:"success"`
	Code     string   `json:"code,omitempty"`
	PlayerID string   `json:"playerId,omitempty"`
	Players  []string `json:"players,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// RoomInfoReply answers room-info.
type RoomInfoReply struct {
	Success     bool `json:"success"`
	PlayerCount int  `json:"playerCount,omitempty"`
	MaxPlayers  int  `json:"maxPlayers,omitempty"`
}

// PlayerRef carries the subject of a membership event.
type PlayerRef struct {
	ID string `json:"id"`
}
