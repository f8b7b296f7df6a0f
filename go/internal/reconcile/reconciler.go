package reconcile

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/slipstream-racing/slipstream/go/internal/netclient"
	"github.com/slipstream-racing/slipstream/go/internal/protocol"
)

// DefaultBlendFactor is the per-tick fraction of the remaining
// distance to the target covered by the interpolator. Critically
// damped follow: converges geometrically, never overshoots, and does
// not care how irregularly snapshots arrive.
const DefaultBlendFactor = 0.2

// Pose is the continuously interpolated state handed to the renderer
// every tick.
type Pose struct {
	Position    Vec3
	Orientation Quat
	Steering    float64
}

// CollisionProxy is the kinematic physics placeholder kept co-located
// with a remote entity so local simulation can collide with it.
// Supplied by the host application; the reconciler re-poses it every
// tick and releases it when the entity is destroyed.
type CollisionProxy interface {
	SetPose(position Vec3, orientation Quat)
	Release()
}

// ProxyFactory creates the collision proxy for a newly known remote
// entity. May return nil when the host runs without physics.
type ProxyFactory func(id string) CollisionProxy

// Entity is one remote player being reconciled.
type Entity struct {
	ID       string
	Username string
	Color    string
	LapCount int

	// active flips on the first snapshot; until then the entity is
	// parked with no meaningful pose (spawn position is unknown).
	active bool

	current        Pose
	targetPosition Vec3
	targetOrient   Quat
	targetSteering float64

	// LastSnapshotAt is when the current target arrived, on the local
	// monotonic clock.
	LastSnapshotAt time.Time

	proxy CollisionProxy
}

// Pose returns the entity's current interpolated pose and whether it
// has one yet.
func (e *Entity) Pose() (Pose, bool) {
	return e.current, e.active
}

// Options tunes a Reconciler. Zero value is usable.
type Options struct {
	// BlendFactor overrides DefaultBlendFactor; must be in (0,1).
	BlendFactor float64
	// ProxyFactory creates collision proxies; nil disables them.
	ProxyFactory ProxyFactory
	// Clock stamps snapshot arrival; defaults to the real clock.
	Clock clockwork.Clock
}

// Reconciler turns sparse remote snapshots into a smooth per-tick pose
// for every other player in the room and owns remote-entity existence.
// It is driven entirely from the game loop: Apply for each drained
// event, then Tick once per frame. Nothing here locks; cross-thread
// use is the caller's bug.
type Reconciler struct {
	blend    float64
	entities map[string]*Entity
	newProxy ProxyFactory
	clock    clockwork.Clock
}

// New creates an empty reconciler.
func New(opts Options) *Reconciler {
	if opts.BlendFactor <= 0 || opts.BlendFactor >= 1 {
		opts.BlendFactor = DefaultBlendFactor
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Reconciler{
		blend:    opts.BlendFactor,
		entities: make(map[string]*Entity),
		newProxy: opts.ProxyFactory,
		clock:    opts.Clock,
	}
}

// Seed instantiates parked entities for the existing-players list a
// join reply carries, so placeholders exist before any snapshot.
func (r *Reconciler) Seed(ids []string) {
	for _, id := range ids {
		r.ensureEntity(id)
	}
}

// Apply routes one inbound event into entity lifecycle or snapshot
// supersession. Unknown event types are ignored.
func (r *Reconciler) Apply(ev netclient.Event) {
	switch ev.Type {
	case netclient.EventPlayerJoined:
		r.ensureEntity(ev.PlayerID)

	case netclient.EventPlayerLeft:
		r.destroyEntity(ev.PlayerID)

	case netclient.EventPlayerState:
		if ev.State != nil {
			r.applySnapshot(ev.State)
		}

	case netclient.EventDisconnected:
		// Losing the session removes every remote entity; there is no
		// room anymore for them to exist in.
		for id := range r.entities {
			r.destroyEntity(id)
		}
	}
}

// Tick advances every active entity one interpolation step and
// co-locates its collision proxy. Call once per simulation tick.
func (r *Reconciler) Tick() {
	for _, e := range r.entities {
		if !e.active {
			continue
		}
		e.current.Position = e.current.Position.Lerp(e.targetPosition, r.blend)
		e.current.Orientation = e.current.Orientation.Slerp(e.targetOrient, r.blend)
		e.current.Steering = Lerp(e.current.Steering, e.targetSteering, r.blend)

		if e.proxy != nil {
			e.proxy.SetPose(e.current.Position, e.current.Orientation)
		}
	}
}

// Entity returns the tracked entity for id, or nil.
func (r *Reconciler) Entity(id string) *Entity {
	return r.entities[id]
}

// Len returns the number of tracked remote entities.
func (r *Reconciler) Len() int {
	return len(r.entities)
}

func (r *Reconciler) ensureEntity(id string) *Entity {
	if id == "" {
		return nil
	}
	if e, ok := r.entities[id]; ok {
		return e
	}

	e := &Entity{
		ID: id,
		current: Pose{
			Orientation: QuatIdentity,
		},
		targetOrient: QuatIdentity,
	}
	if r.newProxy != nil {
		e.proxy = r.newProxy(id)
	}
	r.entities[id] = e

	log.Debug().Str("player_id", id).Msg("remote entity created")
	return e
}

func (r *Reconciler) destroyEntity(id string) {
	e, ok := r.entities[id]
	if !ok {
		return
	}
	if e.proxy != nil {
		e.proxy.Release()
	}
	delete(r.entities, id)

	log.Debug().Str("player_id", id).Msg("remote entity destroyed")
}

// applySnapshot overwrites the entity's target with the newest
// snapshot. Supersession, not buffering: there is never more than one
// retained target. A snapshot for an unknown id creates the entity on
// the fly, since state can outrun the join notification.
func (r *Reconciler) applySnapshot(state *protocol.PlayerState) {
	e := r.ensureEntity(state.ID)
	if e == nil {
		return
	}

	if state.Position != nil {
		e.targetPosition = vec3FromWire(state.Position)
	}
	if state.Quaternion != nil {
		e.targetOrient = quatFromWire(state.Quaternion)
	}
	if state.Steering != nil {
		e.targetSteering = *state.Steering
	}

	// First snapshot reveals the spawn pose: snap, then follow.
	if !e.active {
		e.active = true
		e.current = Pose{
			Position:    e.targetPosition,
			Orientation: e.targetOrient,
			Steering:    e.targetSteering,
		}
		if e.proxy != nil {
			e.proxy.SetPose(e.current.Position, e.current.Orientation)
		}
	}

	// Late-arriving metadata is applied whenever present; absence is
	// normal on early snapshots.
	if state.Username != "" {
		e.Username = state.Username
	}
	if state.Color != "" {
		e.Color = state.Color
	}
	if state.LapCount != 0 {
		e.LapCount = state.LapCount
	}

	e.LastSnapshotAt = r.clock.Now()
}
