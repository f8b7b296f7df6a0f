package room

import "errors"

// ErrRoomNotFound is returned when a join or lookup names a code with no live room
var ErrRoomNotFound = errors.New("room not found")

// ErrRoomFull is returned when a join would push a room past MaxPlayersPerRoom
var ErrRoomFull = errors.New("room is full")

// ErrCodeSpaceExhausted is returned when code generation cannot find a free code
var ErrCodeSpaceExhausted = errors.New("room code space exhausted")
