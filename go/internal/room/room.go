package room

import "time"

// MaxPlayersPerRoom is the hard capacity of a single room.
const MaxPlayersPerRoom = 4

// Member is one live connection inside a room. The relay is stateless
// with respect to game physics, so a member is just its connection id
// plus bookkeeping.
type Member struct {
	ID       string
	JoinedAt time.Time
}

// Room is a single session room. Rooms are exclusively owned by the
// Registry; nothing outside this package mutates one directly.
type Room struct {
	Code    string
	HostID  string // creator's connection id; informational only
	members map[string]*Member
	order   []string // member ids in join order
}

func newRoom(code string) *Room {
	return &Room{
		Code:    code,
		members: make(map[string]*Member),
		order:   make([]string, 0, MaxPlayersPerRoom),
	}
}

func (r *Room) add(memberID string, now time.Time) {
	if _, ok := r.members[memberID]; ok {
		return
	}
	r.members[memberID] = &Member{ID: memberID, JoinedAt: now}
	r.order = append(r.order, memberID)
}

func (r *Room) remove(memberID string) bool {
	if _, ok := r.members[memberID]; !ok {
		return false
	}
	delete(r.members, memberID)
	for i, id := range r.order {
		if id == memberID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// memberIDs returns member ids in join order, excluding the given id.
func (r *Room) memberIDs(except string) []string {
	ids := make([]string, 0, len(r.order))
	for _, id := range r.order {
		if id != except {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *Room) size() int {
	return len(r.members)
}
