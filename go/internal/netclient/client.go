package netclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/slipstream-racing/slipstream/go/internal/protocol"
)

// ErrNotConnected is returned by operations that need a live session.
var ErrNotConnected = errors.New("not connected")

// DefaultPublishInterval bounds outbound state to 30 Hz per client.
const DefaultPublishInterval = time.Second / 30

// Options tunes a Client. The zero value gives production behavior.
type Options struct {
	// Dial overrides the transport; defaults to DialWebSocket.
	Dial DialFunc
	// Clock overrides the rate-limiter clock; defaults to the real one.
	Clock clockwork.Clock
	// PublishInterval overrides the minimum spacing between published
	// state snapshots; defaults to DefaultPublishInterval.
	PublishInterval time.Duration
}

// Client is the client half of the relay protocol. It owns one
// connection, the current room membership, and the outbound publish
// rate limit. Inbound events surface through Subscribe.
type Client struct {
	dial            DialFunc
	clock           clockwork.Clock
	publishInterval time.Duration

	mu          sync.Mutex
	transport   Transport
	connected   bool
	closing     bool
	roomCode    string
	playerID    string
	isHost      bool
	lastPublish time.Time
	nextSeq     uint64
	pending     map[uint64]chan protocol.Envelope
	subscribers map[uint64]*subscriber
	nextSub     uint64

	writeMu sync.Mutex // serializes transport writes
}

// NewClient creates a disconnected client.
func NewClient(opts Options) *Client {
	if opts.Dial == nil {
		opts.Dial = DialWebSocket
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.PublishInterval <= 0 {
		opts.PublishInterval = DefaultPublishInterval
	}
	return &Client{
		dial:            opts.Dial,
		clock:           opts.Clock,
		publishInterval: opts.PublishInterval,
		pending:         make(map[uint64]chan protocol.Envelope),
		subscribers:     make(map[uint64]*subscriber),
	}
}

// Connect establishes the transport. It resolves once the transport is
// open and fails with the dial error otherwise. A later transport-level
// disconnect surfaces as a Disconnected event, not an error; the caller
// decides whether to reconnect.
func (c *Client) Connect(ctx context.Context, url string) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return errors.New("already connected")
	}
	c.mu.Unlock()

	transport, err := c.dial(ctx, url)
	if err != nil {
		return fmt.Errorf("connection error: %w", err)
	}

	c.mu.Lock()
	c.transport = transport
	c.connected = true
	c.closing = false
	c.mu.Unlock()

	go c.readLoop(transport)

	log.Info().Str("url", url).Msg("connected to relay")
	return nil
}

// CreateRoom asks the relay for a fresh room and binds this client to
// it as host.
func (c *Client) CreateRoom(ctx context.Context) (protocol.CreateRoomReply, error) {
	var reply protocol.CreateRoomReply
	env, err := c.roundTrip(ctx, protocol.TypeCreateRoom, nil)
	if err != nil {
		return reply, err
	}
	if err := json.Unmarshal(env.Data, &reply); err != nil {
		return reply, fmt.Errorf("malformed create-room reply: %w", err)
	}
	if !reply.Success {
		return reply, fmt.Errorf("create room: %s", reply.Error)
	}

	c.mu.Lock()
	c.roomCode = reply.Code
	c.playerID = reply.PlayerID
	c.isHost = true
	c.mu.Unlock()

	log.Info().Str("code", reply.Code).Msg("room created")
	return reply, nil
}

// JoinRoom joins an existing room by code (case-insensitive). The
// reply's Players field lists the members already present, in join
// order. RoomNotFound and RoomFull come back as descriptive errors the
// caller can surface directly.
func (c *Client) JoinRoom(ctx context.Context, code string) (protocol.JoinRoomReply, error) {
	var reply protocol.JoinRoomReply
	env, err := c.roundTrip(ctx, protocol.TypeJoinRoom, protocol.JoinRoomRequest{Code: code})
	if err != nil {
		return reply, err
	}
	if err := json.Unmarshal(env.Data, &reply); err != nil {
		return reply, fmt.Errorf("malformed join-room reply: %w", err)
	}
	if !reply.Success {
		return reply, fmt.Errorf("join room: %s", reply.Error)
	}

	c.mu.Lock()
	c.roomCode = reply.Code
	c.playerID = reply.PlayerID
	c.isHost = false
	c.mu.Unlock()

	log.Info().Str("code", reply.Code).Msg("joined room")
	return reply, nil
}

// RoomInfo queries occupancy of the current room.
func (c *Client) RoomInfo(ctx context.Context) (protocol.RoomInfoReply, error) {
	var reply protocol.RoomInfoReply
	env, err := c.roundTrip(ctx, protocol.TypeRoomInfo, nil)
	if err != nil {
		return reply, err
	}
	if err := json.Unmarshal(env.Data, &reply); err != nil {
		return reply, fmt.Errorf("malformed room-info reply: %w", err)
	}
	return reply, nil
}

// PublishState sends one state snapshot, rate-limited and drop-based:
// a call landing inside the minimum spacing is a silent no-op, never
// queued. The next eligible call carries the then-freshest state. It
// also no-ops entirely when not connected or not in a room.
func (c *Client) PublishState(state protocol.PlayerState) error {
	c.mu.Lock()
	if !c.connected || c.roomCode == "" {
		c.mu.Unlock()
		return nil
	}
	now := c.clock.Now()
	if now.Sub(c.lastPublish) < c.publishInterval {
		c.mu.Unlock()
		return nil
	}
	c.lastPublish = now
	transport := c.transport
	c.mu.Unlock()

	return c.writeFrame(transport, protocol.TypePlayerState, 0, state)
}

// PublishAction sends a one-shot gameplay action. Not rate-limited:
// these are discrete events, not superseding snapshots.
func (c *Client) PublishAction(action protocol.PlayerAction) error {
	c.mu.Lock()
	if !c.connected || c.roomCode == "" {
		c.mu.Unlock()
		return nil
	}
	transport := c.transport
	c.mu.Unlock()

	return c.writeFrame(transport, protocol.TypePlayerAction, 0, action)
}

// Disconnect closes the transport and resets all session state.
// Idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	transport := c.transport
	c.closing = true
	c.mu.Unlock()

	if transport != nil {
		transport.Close()
	}
	c.reset(false)
}

// RoomCode returns the current room code, or "".
func (c *Client) RoomCode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomCode
}

// PlayerID returns the id the relay assigned this client, or "".
func (c *Client) PlayerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playerID
}

// IsHost reports whether this client created its current room.
func (c *Client) IsHost() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isHost
}

// Connected reports whether the transport is live.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// roundTrip performs one seq-correlated request/reply exchange. The
// relay always produces a reply; if the transport stalls instead,
// cancellation is the caller's job via ctx.
func (c *Client) roundTrip(ctx context.Context, t protocol.MessageType, payload any) (protocol.Envelope, error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return protocol.Envelope{}, ErrNotConnected
	}
	c.nextSeq++
	seq := c.nextSeq
	replyCh := make(chan protocol.Envelope, 1)
	c.pending[seq] = replyCh
	transport := c.transport
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
	}()

	if err := c.writeFrame(transport, t, seq, payload); err != nil {
		return protocol.Envelope{}, err
	}

	select {
	case env, ok := <-replyCh:
		if !ok {
			return protocol.Envelope{}, ErrNotConnected
		}
		return env, nil
	case <-ctx.Done():
		return protocol.Envelope{}, ctx.Err()
	}
}

func (c *Client) writeFrame(transport Transport, t protocol.MessageType, seq uint64, payload any) error {
	var data json.RawMessage
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s payload: %w", t, err)
		}
	}
	frame, err := json.Marshal(protocol.Envelope{Type: t, Seq: seq, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal %s frame: %w", t, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := transport.WriteMessage(frame); err != nil {
		return fmt.Errorf("failed to send %s: %w", t, err)
	}
	return nil
}

// readLoop decodes inbound frames until the transport dies, routing
// replies to their waiting request and everything else to subscribers.
func (c *Client) readLoop(transport Transport) {
	for {
		frame, err := transport.ReadMessage()
		if err != nil {
			c.handleTransportLoss()
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			log.Warn().Err(err).Msg("dropping malformed frame from relay")
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeCreateRoomReply, protocol.TypeJoinRoomReply, protocol.TypeRoomInfoReply:
		// Deliver under the lock: the channel is buffered and removed
		// from pending here, so reset can never close it mid-send.
		c.mu.Lock()
		if replyCh, ok := c.pending[env.Seq]; ok {
			delete(c.pending, env.Seq)
			replyCh <- env
		}
		c.mu.Unlock()

	case protocol.TypePlayerJoined:
		var ref protocol.PlayerRef
		if err := json.Unmarshal(env.Data, &ref); err != nil {
			return
		}
		c.mu.Lock()
		c.emitLocked(Event{Type: EventPlayerJoined, PlayerID: ref.ID})
		c.mu.Unlock()

	case protocol.TypePlayerLeft:
		var ref protocol.PlayerRef
		if err := json.Unmarshal(env.Data, &ref); err != nil {
			return
		}
		c.mu.Lock()
		c.emitLocked(Event{Type: EventPlayerLeft, PlayerID: ref.ID})
		c.mu.Unlock()

	case protocol.TypePlayerState:
		var state protocol.PlayerState
		if err := json.Unmarshal(env.Data, &state); err != nil {
			return
		}
		c.mu.Lock()
		c.emitLocked(Event{Type: EventPlayerState, PlayerID: state.ID, State: &state})
		c.mu.Unlock()

	case protocol.TypePlayerAction:
		var action protocol.PlayerAction
		if err := json.Unmarshal(env.Data, &action); err != nil {
			return
		}
		c.mu.Lock()
		c.emitLocked(Event{Type: EventPlayerAction, PlayerID: action.ID, Action: &action})
		c.mu.Unlock()

	default:
		log.Debug().Str("type", string(env.Type)).Msg("ignoring frame of unknown type")
	}
}

// handleTransportLoss runs when the read loop sees the transport die.
// An unexpected loss emits a Disconnected event; an explicit
// Disconnect already reset the session and stays silent.
func (c *Client) handleTransportLoss() {
	c.mu.Lock()
	wasClosing := c.closing
	c.mu.Unlock()

	c.reset(!wasClosing)
}

// reset clears session state, fails any in-flight request, and
// optionally emits the Disconnected event. Safe to call repeatedly.
func (c *Client) reset(emitDisconnected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wasConnected := c.connected
	c.connected = false
	c.transport = nil
	c.roomCode = ""
	c.playerID = ""
	c.isHost = false

	for seq, replyCh := range c.pending {
		close(replyCh)
		delete(c.pending, seq)
	}

	if emitDisconnected && wasConnected {
		c.emitLocked(Event{Type: EventDisconnected})
	}
}
