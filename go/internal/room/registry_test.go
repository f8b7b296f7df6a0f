package room

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CreateRoom(t *testing.T) {
	reg := NewRegistry()

	code, err := reg.CreateRoom("host-1")
	require.NoError(t, err)
	assert.Len(t, code, CodeLength)
	for _, c := range code {
		assert.Contains(t, CodeAlphabet, string(c))
	}

	info, err := reg.RoomInfo(code)
	require.NoError(t, err)
	assert.Equal(t, 1, info.MemberCount)
	assert.Equal(t, MaxPlayersPerRoom, info.MaxMembers)
}

func TestRegistry_CodesUniqueAmongActiveRooms(t *testing.T) {
	reg := NewRegistry()

	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code, err := reg.CreateRoom("host")
		require.NoError(t, err)
		assert.False(t, seen[code], "duplicate active code %s", code)
		seen[code] = true
	}
}

func TestRegistry_JoinReturnsExistingMembersInJoinOrder(t *testing.T) {
	reg := NewRegistry()

	code, err := reg.CreateRoom("a")
	require.NoError(t, err)

	res, err := reg.Join(code, "b", nil)
	require.NoError(t, err)
	assert.Equal(t, code, res.Code)
	assert.Equal(t, []string{"a"}, res.ExistingMembers)

	res, err = reg.Join(code, "c", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, res.ExistingMembers)
}

func TestRegistry_JoinIsCaseInsensitive(t *testing.T) {
	reg := NewRegistry()

	code, err := reg.CreateRoom("a")
	require.NoError(t, err)

	res, err := reg.Join(strings.ToLower(code), "b", nil)
	require.NoError(t, err)
	assert.Equal(t, code, res.Code, "reply carries the normalized code")
}

func TestRegistry_JoinUnknownCode(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Join("ZZZZ", "b", nil)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestRegistry_JoinFullRoom(t *testing.T) {
	reg := NewRegistry()

	code, err := reg.CreateRoom("p0")
	require.NoError(t, err)
	_, err = reg.Join(code, "p1", nil)
	require.NoError(t, err)
	_, err = reg.Join(code, "p2", nil)
	require.NoError(t, err)
	_, err = reg.Join(code, "p3", nil)
	require.NoError(t, err)

	_, err = reg.Join(code, "p4", nil)
	assert.ErrorIs(t, err, ErrRoomFull)

	info, err := reg.RoomInfo(code)
	require.NoError(t, err)
	assert.Equal(t, MaxPlayersPerRoom, info.MemberCount)
}

func TestRegistry_ConcurrentJoinsNeverExceedCapacity(t *testing.T) {
	reg := NewRegistry()

	code, err := reg.CreateRoom("host")
	require.NoError(t, err)

	const contenders = 32
	var wg sync.WaitGroup
	admitted := make(chan string, contenders)

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			memberID := fmt.Sprintf("m%d", id)
			if _, err := reg.Join(code, memberID, nil); err == nil {
				admitted <- memberID
			}
		}(i)
	}
	wg.Wait()
	close(admitted)

	got := 0
	for range admitted {
		got++
	}
	assert.Equal(t, MaxPlayersPerRoom-1, got, "exactly the free slots are admitted")

	info, err := reg.RoomInfo(code)
	require.NoError(t, err)
	assert.Equal(t, MaxPlayersPerRoom, info.MemberCount)
}

func TestRegistry_LeaveDeletesEmptyRoomSynchronously(t *testing.T) {
	reg := NewRegistry()

	code, err := reg.CreateRoom("a")
	require.NoError(t, err)
	_, err = reg.Join(code, "b", nil)
	require.NoError(t, err)

	remaining, removed := reg.Leave(code, "a", nil)
	assert.True(t, removed)
	assert.Equal(t, []string{"b"}, remaining)

	info, err := reg.RoomInfo(code)
	require.NoError(t, err)
	assert.Equal(t, 1, info.MemberCount)

	remaining, removed = reg.Leave(code, "b", nil)
	assert.True(t, removed)
	assert.Empty(t, remaining)

	_, err = reg.RoomInfo(code)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestRegistry_LeaveIsIdempotent(t *testing.T) {
	reg := NewRegistry()

	code, err := reg.CreateRoom("a")
	require.NoError(t, err)
	_, err = reg.Join(code, "b", nil)
	require.NoError(t, err)

	_, removed := reg.Leave(code, "b", nil)
	assert.True(t, removed)
	_, removed = reg.Leave(code, "b", nil)
	assert.False(t, removed)

	// Leaving a room that never existed is a no-op too.
	_, removed = reg.Leave("QQQQ", "b", nil)
	assert.False(t, removed)

	info, err := reg.RoomInfo(code)
	require.NoError(t, err)
	assert.Equal(t, 1, info.MemberCount)
}

func TestRegistry_GetStats(t *testing.T) {
	reg := NewRegistry()

	code1, err := reg.CreateRoom("a")
	require.NoError(t, err)
	_, err = reg.Join(code1, "b", nil)
	require.NoError(t, err)
	_, err = reg.CreateRoom("c")
	require.NoError(t, err)

	stats := reg.GetStats()
	assert.Equal(t, 2, stats.Rooms)
	assert.Equal(t, 3, stats.Members)
}

func TestRegistry_JoinNotifyRunsBeforeMutationIsReadable(t *testing.T) {
	reg := NewRegistry()

	code, err := reg.CreateRoom("a")
	require.NoError(t, err)

	infoDone := make(chan Info, 1)
	notified := false
	_, err = reg.Join(code, "b", func(res JoinResult) {
		notified = true
		assert.Equal(t, []string{"a"}, res.ExistingMembers)

		// A concurrent occupancy read must not complete until this
		// callback returns.
		go func() {
			info, err := reg.RoomInfo(code)
			if err == nil {
				infoDone <- info
			}
		}()
		select {
		case info := <-infoDone:
			t.Errorf("room-info observed count %d before the join notification completed", info.MemberCount)
		case <-time.After(50 * time.Millisecond):
		}
	})
	require.NoError(t, err)
	require.True(t, notified)

	info := <-infoDone
	assert.Equal(t, 2, info.MemberCount)
}

func TestRegistry_LeaveNotifyGetsRemainingMembers(t *testing.T) {
	reg := NewRegistry()

	code, err := reg.CreateRoom("a")
	require.NoError(t, err)
	_, err = reg.Join(code, "b", nil)
	require.NoError(t, err)
	_, err = reg.Join(code, "c", nil)
	require.NoError(t, err)

	var notifiedWith []string
	_, removed := reg.Leave(code, "b", func(remaining []string) {
		notifiedWith = remaining
	})
	require.True(t, removed)
	assert.Equal(t, []string{"a", "c"}, notifiedWith)

	// Emptying the room skips the callback; nobody is left to hear it.
	called := false
	reg.Leave(code, "a", func([]string) { called = true })
	reg.Leave(code, "c", func([]string) { called = true })
	_, err = reg.RoomInfo(code)
	require.ErrorIs(t, err, ErrRoomNotFound)
	assert.True(t, called, "leave with a peer still present notifies")
}

func TestRegistry_LeaveLogsSessionDuration(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	defer func() { log.Logger = prev }()

	clock := clockwork.NewFakeClock()
	reg := NewRegistryWithClock(clock)

	code, err := reg.CreateRoom("a")
	require.NoError(t, err)
	_, err = reg.Join(code, "b", nil)
	require.NoError(t, err)

	clock.Advance(90 * time.Second)
	_, removed := reg.Leave(code, "b", nil)
	require.True(t, removed)

	assert.Contains(t, buf.String(), `"connected_for":90000`)
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "AB12", NormalizeCode("ab12"))
	assert.Equal(t, "AB12", NormalizeCode(" Ab12 "))
}

func TestRandomCode_DrawsFromUnambiguousAlphabet(t *testing.T) {
	assert.NotContains(t, CodeAlphabet, "I")
	assert.NotContains(t, CodeAlphabet, "O")
	assert.NotContains(t, CodeAlphabet, "0")
	assert.NotContains(t, CodeAlphabet, "1")

	for i := 0; i < 100; i++ {
		code := randomCode()
		require.Len(t, code, CodeLength)
		for _, c := range code {
			assert.Contains(t, CodeAlphabet, string(c))
		}
	}
}
