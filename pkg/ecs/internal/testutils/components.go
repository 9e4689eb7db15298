package testutils

// Components.

type Health struct {
	Value int `json:"value"`
}

func (Health) Name() string { return "Health" }

type Position struct{ X, Y int }

func (Position) Name() string { return "Position" }

type Velocity struct{ X, Y int }

func (Velocity) Name() string { return "Velocity" }

type Experience struct{ Value int }

func (Experience) Name() string { return "Experience" }

type PlayerTag struct{ Tag string }

func (PlayerTag) Name() string { return "PlayerTag" }

type Level struct{ Value int }

func (Level) Name() string { return "Level" }

type Frozen struct{}

func (Frozen) Name() string { return "Frozen" }

type Dead struct{}

func (Dead) Name() string { return "Dead" }

// Unnamed has no Name method, so it is registered under its type name.
type Unnamed struct{ Value float64 }

// Wide is large enough to force small chunks.
type Wide struct{ Data [512]byte }

func (Wide) Name() string { return "Wide" }

// Resources.

type Score struct{ Points int }

type Clock struct{ Ticks int }

// Events.

type PlayerDeath struct{ Nickname string }

type ItemDrop struct{ Item string }
