package relay

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipstream-racing/slipstream/go/internal/protocol"
	"github.com/slipstream-racing/slipstream/go/internal/room"
)

// fakeFanout records every broadcast so tests can assert on scope and
// payload without sockets.
type fakeFanout struct {
	sends []fanoutCall
}

type fanoutCall struct {
	ids   []string
	frame []byte
}

func (f *fakeFanout) SendToMembers(ids []string, frame []byte) {
	f.sends = append(f.sends, fanoutCall{ids: ids, frame: frame})
}

type testHarness struct {
	registry *room.Registry
	fanout   *fakeFanout
	replies  map[string][]protocol.Envelope
	sessions map[string]*Session
}

func newHarness() *testHarness {
	return &testHarness{
		registry: room.NewRegistry(),
		fanout:   &fakeFanout{},
		replies:  make(map[string][]protocol.Envelope),
		sessions: make(map[string]*Session),
	}
}

func (h *testHarness) session(id string) *Session {
	if s, ok := h.sessions[id]; ok {
		return s
	}
	s := NewSession(id, h.registry, h.fanout, func(frame []byte) {
		var env protocol.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			panic(err)
		}
		h.replies[id] = append(h.replies[id], env)
	})
	h.sessions[id] = s
	return s
}

func (h *testHarness) lastReply(t *testing.T, id string) protocol.Envelope {
	t.Helper()
	require.NotEmpty(t, h.replies[id], "no reply recorded for %s", id)
	return h.replies[id][len(h.replies[id])-1]
}

func request(t protocol.MessageType, seq uint64, payload any) []byte {
	data, _ := json.Marshal(payload)
	frame, _ := json.Marshal(protocol.Envelope{Type: t, Seq: seq, Data: data})
	return frame
}

func decodeInto[T any](t *testing.T, env protocol.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func TestSession_CreateRoom(t *testing.T) {
	h := newHarness()
	h.session("A").HandleFrame(request(protocol.TypeCreateRoom, 1, nil))

	env := h.lastReply(t, "A")
	assert.Equal(t, protocol.TypeCreateRoomReply, env.Type)
	assert.Equal(t, uint64(1), env.Seq)

	reply := decodeInto[protocol.CreateRoomReply](t, env)
	require.True(t, reply.Success)
	assert.Len(t, reply.Code, room.CodeLength)
	assert.Equal(t, "A", reply.PlayerID)

	info, err := h.registry.RoomInfo(reply.Code)
	require.NoError(t, err)
	assert.Equal(t, 1, info.MemberCount)
}

func TestSession_JoinIsCaseInsensitiveAndNotifiesPeers(t *testing.T) {
	h := newHarness()
	h.session("A").HandleFrame(request(protocol.TypeCreateRoom, 1, nil))
	code := decodeInto[protocol.CreateRoomReply](t, h.lastReply(t, "A")).Code

	h.session("B").HandleFrame(request(protocol.TypeJoinRoom, 1, protocol.JoinRoomRequest{
		Code: strings.ToLower(code),
	}))

	reply := decodeInto[protocol.JoinRoomReply](t, h.lastReply(t, "B"))
	require.True(t, reply.Success)
	assert.Equal(t, code, reply.Code, "reply carries the uppercase code")
	assert.Equal(t, "B", reply.PlayerID)
	assert.Equal(t, []string{"A"}, reply.Players)

	// A got exactly one player-joined for B.
	require.Len(t, h.fanout.sends, 1)
	assert.Equal(t, []string{"A"}, h.fanout.sends[0].ids)

	var env protocol.Envelope
	require.NoError(t, json.Unmarshal(h.fanout.sends[0].frame, &env))
	assert.Equal(t, protocol.TypePlayerJoined, env.Type)
	assert.Equal(t, protocol.PlayerRef{ID: "B"}, decodeInto[protocol.PlayerRef](t, env))
}

func TestSession_JoinUnknownRoom(t *testing.T) {
	h := newHarness()
	h.session("B").HandleFrame(request(protocol.TypeJoinRoom, 7, protocol.JoinRoomRequest{Code: "ZZZZ"}))

	reply := decodeInto[protocol.JoinRoomReply](t, h.lastReply(t, "B"))
	assert.False(t, reply.Success)
	assert.Equal(t, "Room not found", reply.Error)
}

func TestSession_JoinFullRoom(t *testing.T) {
	h := newHarness()
	h.session("A").HandleFrame(request(protocol.TypeCreateRoom, 1, nil))
	code := decodeInto[protocol.CreateRoomReply](t, h.lastReply(t, "A")).Code

	for i := 1; i < room.MaxPlayersPerRoom; i++ {
		id := fmt.Sprintf("p%d", i)
		h.session(id).HandleFrame(request(protocol.TypeJoinRoom, 1, protocol.JoinRoomRequest{Code: code}))
		require.True(t, decodeInto[protocol.JoinRoomReply](t, h.lastReply(t, id)).Success)
	}

	h.session("late").HandleFrame(request(protocol.TypeJoinRoom, 1, protocol.JoinRoomRequest{Code: code}))
	reply := decodeInto[protocol.JoinRoomReply](t, h.lastReply(t, "late"))
	assert.False(t, reply.Success)
	assert.Equal(t, "Room is full", reply.Error)
}

func TestSession_CreateWhileInRoomFails(t *testing.T) {
	h := newHarness()
	h.session("A").HandleFrame(request(protocol.TypeCreateRoom, 1, nil))
	h.session("A").HandleFrame(request(protocol.TypeCreateRoom, 2, nil))

	reply := decodeInto[protocol.CreateRoomReply](t, h.lastReply(t, "A"))
	assert.False(t, reply.Success)
	assert.Equal(t, "Already in a room", reply.Error)
}

func TestSession_RoomInfo(t *testing.T) {
	h := newHarness()

	// Not in a room yet.
	h.session("A").HandleFrame(request(protocol.TypeRoomInfo, 1, nil))
	assert.False(t, decodeInto[protocol.RoomInfoReply](t, h.lastReply(t, "A")).Success)

	h.session("A").HandleFrame(request(protocol.TypeCreateRoom, 2, nil))
	code := decodeInto[protocol.CreateRoomReply](t, h.lastReply(t, "A")).Code
	h.session("B").HandleFrame(request(protocol.TypeJoinRoom, 1, protocol.JoinRoomRequest{Code: code}))

	h.session("A").HandleFrame(request(protocol.TypeRoomInfo, 3, nil))
	reply := decodeInto[protocol.RoomInfoReply](t, h.lastReply(t, "A"))
	require.True(t, reply.Success)
	assert.Equal(t, 2, reply.PlayerCount)
	assert.Equal(t, room.MaxPlayersPerRoom, reply.MaxPlayers)
}

func TestSession_PlayerStateRelayInjectsIDAndPreservesFields(t *testing.T) {
	h := newHarness()
	h.session("A").HandleFrame(request(protocol.TypeCreateRoom, 1, nil))
	code := decodeInto[protocol.CreateRoomReply](t, h.lastReply(t, "A")).Code
	h.session("B").HandleFrame(request(protocol.TypeJoinRoom, 1, protocol.JoinRoomRequest{Code: code}))
	h.fanout.sends = nil

	state := []byte(`{"position":{"x":1,"y":2,"z":3},"steering":0.5,"customField":"kept"}`)
	h.session("A").HandleFrame(request(protocol.TypePlayerState, 0, json.RawMessage(state)))

	require.Len(t, h.fanout.sends, 1)
	assert.Equal(t, []string{"B"}, h.fanout.sends[0].ids, "never echoed to sender")

	var env protocol.Envelope
	require.NoError(t, json.Unmarshal(h.fanout.sends[0].frame, &env))
	assert.Equal(t, protocol.TypePlayerState, env.Type)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, "A", payload["id"])
	assert.Equal(t, "kept", payload["customField"], "opaque fields pass through the relay")
}

func TestSession_PlayerStateIgnoredOutsideRoom(t *testing.T) {
	h := newHarness()
	h.session("A").HandleFrame(request(protocol.TypePlayerState, 0, json.RawMessage(`{"steering":1}`)))
	assert.Empty(t, h.fanout.sends)
	assert.Empty(t, h.replies["A"])
}

func TestSession_PlayerActionRelay(t *testing.T) {
	h := newHarness()
	h.session("A").HandleFrame(request(protocol.TypeCreateRoom, 1, nil))
	code := decodeInto[protocol.CreateRoomReply](t, h.lastReply(t, "A")).Code
	h.session("B").HandleFrame(request(protocol.TypeJoinRoom, 1, protocol.JoinRoomRequest{Code: code}))
	h.fanout.sends = nil

	h.session("B").HandleFrame(request(protocol.TypePlayerAction, 0,
		protocol.PlayerAction{Type: "klaxon"}))

	require.Len(t, h.fanout.sends, 1)
	assert.Equal(t, []string{"A"}, h.fanout.sends[0].ids)

	var env protocol.Envelope
	require.NoError(t, json.Unmarshal(h.fanout.sends[0].frame, &env))
	assert.Equal(t, protocol.TypePlayerAction, env.Type)
	action := decodeInto[protocol.PlayerAction](t, env)
	assert.Equal(t, "B", action.ID)
	assert.Equal(t, "klaxon", action.Type)
}

func TestSession_CloseNotifiesPeersAndDrainsRoom(t *testing.T) {
	h := newHarness()
	h.session("A").HandleFrame(request(protocol.TypeCreateRoom, 1, nil))
	code := decodeInto[protocol.CreateRoomReply](t, h.lastReply(t, "A")).Code
	h.session("B").HandleFrame(request(protocol.TypeJoinRoom, 1, protocol.JoinRoomRequest{Code: code}))
	h.fanout.sends = nil

	// A disconnects: B is told, room survives with one member.
	h.session("A").Close()

	require.Len(t, h.fanout.sends, 1)
	assert.Equal(t, []string{"B"}, h.fanout.sends[0].ids)
	var env protocol.Envelope
	require.NoError(t, json.Unmarshal(h.fanout.sends[0].frame, &env))
	assert.Equal(t, protocol.TypePlayerLeft, env.Type)
	assert.Equal(t, protocol.PlayerRef{ID: "A"}, decodeInto[protocol.PlayerRef](t, env))

	info, err := h.registry.RoomInfo(code)
	require.NoError(t, err)
	assert.Equal(t, 1, info.MemberCount)

	// B disconnects: room deleted, nobody left to notify.
	h.fanout.sends = nil
	h.session("B").Close()
	assert.Empty(t, h.fanout.sends)

	_, err = h.registry.RoomInfo(code)
	assert.ErrorIs(t, err, room.ErrRoomNotFound)
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	h := newHarness()
	h.session("A").HandleFrame(request(protocol.TypeCreateRoom, 1, nil))
	h.session("A").Close()
	h.session("A").Close()

	assert.Empty(t, h.fanout.sends)
}

// fanoutFunc adapts a func to the Fanout interface.
type fanoutFunc func(ids []string, frame []byte)

func (f fanoutFunc) SendToMembers(ids []string, frame []byte) { f(ids, frame) }

func TestSession_RoomInfoNeverLeadsPlayerJoined(t *testing.T) {
	// A room-info reply that shows the grown count must never be
	// enqueued for a peer ahead of the player-joined frame announcing
	// the growth. The join broadcast rides inside the registry's
	// critical section, so the interleaving below cannot reorder them.
	for trial := 0; trial < 50; trial++ {
		registry := room.NewRegistry()

		var mu sync.Mutex
		var framesForA []protocol.Envelope
		record := func(frame []byte) {
			var env protocol.Envelope
			require.NoError(t, json.Unmarshal(frame, &env))
			mu.Lock()
			framesForA = append(framesForA, env)
			mu.Unlock()
		}
		fanout := fanoutFunc(func(ids []string, frame []byte) {
			for _, id := range ids {
				if id == "A" {
					record(frame)
				}
			}
		})

		a := NewSession("A", registry, fanout, record)
		b := NewSession("B", registry, fanout, func([]byte) {})

		a.HandleFrame(request(protocol.TypeCreateRoom, 1, nil))
		code := a.RoomCode()
		require.NotEmpty(t, code)
		mu.Lock()
		framesForA = nil // discard the create reply
		mu.Unlock()

		joinDone := make(chan struct{})
		go func() {
			defer close(joinDone)
			b.HandleFrame(request(protocol.TypeJoinRoom, 1, protocol.JoinRoomRequest{Code: code}))
		}()
		for i := 0; i < 20; i++ {
			a.HandleFrame(request(protocol.TypeRoomInfo, uint64(i+2), nil))
		}
		<-joinDone

		joined := false
		for _, env := range framesForA {
			switch env.Type {
			case protocol.TypePlayerJoined:
				joined = true
			case protocol.TypeRoomInfoReply:
				reply := decodeInto[protocol.RoomInfoReply](t, env)
				if reply.PlayerCount == 2 {
					require.True(t, joined,
						"trial %d: room-info showed playerCount=2 before player-joined", trial)
				}
			}
		}
	}
}

func TestSession_MalformedFrameIsDropped(t *testing.T) {
	h := newHarness()
	h.session("A").HandleFrame([]byte(`{not json`))
	h.session("A").HandleFrame(request("warp-drive", 1, nil))

	assert.Empty(t, h.replies["A"])
	assert.Empty(t, h.fanout.sends)

	// The session still works afterwards.
	h.session("A").HandleFrame(request(protocol.TypeCreateRoom, 2, nil))
	assert.True(t, decodeInto[protocol.CreateRoomReply](t, h.lastReply(t, "A")).Success)
}
