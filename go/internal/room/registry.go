package room

import (
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Registry is the authoritative, in-memory set of active rooms.
//
// All mutations go through one mutex so the capacity invariant holds
// under concurrent joins racing for the last slot. The relay never
// touches the room map directly; this is the single owner.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room
	clock clockwork.Clock
}

// JoinResult is what a successful Join hands back to the caller.
type JoinResult struct {
	// Code is the normalized (uppercase) room code actually joined.
	Code string
	// ExistingMembers lists the other members' ids in join order, so a
	// late joiner can instantiate placeholders before any snapshot
	// arrives.
	ExistingMembers []string
}

// Info is a point-in-time occupancy snapshot of one room.
type Info struct {
	MemberCount int
	MaxMembers  int
}

// Stats summarizes the whole registry for diagnostics endpoints.
type Stats struct {
	Rooms   int
	Members int
}

// NewRegistry creates an empty registry using the real clock.
func NewRegistry() *Registry {
	return NewRegistryWithClock(clockwork.NewRealClock())
}

// NewRegistryWithClock creates an empty registry with an injected clock.
func NewRegistryWithClock(clock clockwork.Clock) *Registry {
	return &Registry{
		rooms: make(map[string]*Room),
		clock: clock,
	}
}

// CreateRoom generates a fresh unique code, inserts an empty room bound
// to hostID, adds the host as its first member, and returns the code.
func (g *Registry) CreateRoom(hostID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	code, err := g.freeCodeLocked()
	if err != nil {
		return "", err
	}

	r := newRoom(code)
	r.HostID = hostID
	r.add(hostID, g.clock.Now())
	g.rooms[code] = r

	log.Info().
		Str("code", code).
		Str("host_id", hostID).
		Msg("room created")

	return code, nil
}

// Join adds memberID to the room identified by code (case-insensitive).
// Fails with ErrRoomNotFound or ErrRoomFull; on success returns the
// normalized code and the other members in join order.
//
// A non-nil notify runs after the mutation but still inside the
// critical section, so the caller can enqueue join broadcasts
// atomically with the membership change; a concurrent occupancy read
// can then never observe the new member ahead of its announcement.
// notify must not call back into the registry.
func (g *Registry) Join(code, memberID string, notify func(JoinResult)) (JoinResult, error) {
	normalized := NormalizeCode(code)

	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[normalized]
	if !ok {
		return JoinResult{}, ErrRoomNotFound
	}
	if r.size() >= MaxPlayersPerRoom {
		return JoinResult{}, ErrRoomFull
	}

	existing := r.memberIDs(memberID)
	r.add(memberID, g.clock.Now())

	res := JoinResult{Code: normalized, ExistingMembers: existing}
	if notify != nil {
		notify(res)
	}

	log.Info().
		Str("code", normalized).
		Str("member_id", memberID).
		Int("members", r.size()).
		Msg("member joined room")

	return res, nil
}

// Leave removes memberID from the room and returns the ids of the
// members still present, so the caller can notify exactly the peers
// that saw the departure. Removing a non-member or leaving a
// non-existent room is a no-op returning removed=false; out-of-order
// disconnect cleanup must not error. An emptied room is deleted in the
// same critical section.
//
// A non-nil notify runs inside the critical section with the remaining
// member ids, under the same atomicity contract as Join's notify. It
// is skipped when the departure empties the room.
func (g *Registry) Leave(code, memberID string, notify func(remaining []string)) (remaining []string, removed bool) {
	normalized := NormalizeCode(code)

	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[normalized]
	if !ok {
		return nil, false
	}
	m, ok := r.members[memberID]
	if !ok {
		return nil, false
	}
	r.remove(memberID)
	connected := g.clock.Now().Sub(m.JoinedAt)

	if r.size() == 0 {
		delete(g.rooms, normalized)
		log.Info().
			Str("code", normalized).
			Dur("connected_for", connected).
			Msg("room deleted (empty)")
		return nil, true
	}

	remaining = r.memberIDs(memberID)
	if notify != nil {
		notify(remaining)
	}

	log.Info().
		Str("code", normalized).
		Str("member_id", memberID).
		Int("members", r.size()).
		Dur("connected_for", connected).
		Msg("member left room")

	return remaining, true
}

// RoomInfo reports occupancy for the room identified by code.
func (g *Registry) RoomInfo(code string) (Info, error) {
	normalized := NormalizeCode(code)

	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[normalized]
	if !ok {
		return Info{}, ErrRoomNotFound
	}
	return Info{MemberCount: r.size(), MaxMembers: MaxPlayersPerRoom}, nil
}

// Members returns the ids of everyone in the room except the given id,
// in join order. Used by the relay to scope fan-out; returns nil for an
// unknown code.
func (g *Registry) Members(code, except string) []string {
	normalized := NormalizeCode(code)

	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[normalized]
	if !ok {
		return nil
	}
	return r.memberIDs(except)
}

// GetStats returns registry-wide counts for the stats endpoint.
func (g *Registry) GetStats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	members := 0
	for _, r := range g.rooms {
		members += r.size()
	}
	return Stats{Rooms: len(g.rooms), Members: members}
}

// freeCodeLocked generates a code not currently in use. Caller holds mu.
func (g *Registry) freeCodeLocked() (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := randomCode()
		if _, taken := g.rooms[code]; !taken {
			return code, nil
		}
	}
	return "", ErrCodeSpaceExhausted
}
