package protocol

// Vector3 is a position or velocity in world space.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Quaternion is a unit orientation quaternion.
type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// PlayerState is one published snapshot of a car. The relay treats it
// as opaque; this typed form is what the client publishes and what the
// reconciler consumes. Username and Color may be absent on early
// snapshots and show up later; absence is not an error.
type PlayerState struct {
	// ID is the sender's connection id, injected by the relay on
	// fan-out. Empty on the publishing side.
	ID         string      `json:"id,omitempty"`
	Position   *Vector3    `json:"position,omitempty"`
	Quaternion *Quaternion `json:"quaternion,omitempty"`
	Velocity   *Vector3    `json:"velocity,omitempty"`
	Steering   *float64    `json:"steering,omitempty"`
	Username   string      `json:"username,omitempty"`
	Color      string      `json:"color,omitempty"`
	LapCount   int         `json:"lapCount,omitempty"`
}

// PlayerAction is a one-shot gameplay event (horn, projectile shot,
// explosion). Relayed verbatim with the sender id injected; unlike
// state snapshots these are never dropped by rate limiting.
type PlayerAction struct {
	ID        string   `json:"id,omitempty"`
	Type      string   `json:"type"`
	Position  *Vector3 `json:"position,omitempty"`
	Direction *Vector3 `json:"direction,omitempty"`
}
