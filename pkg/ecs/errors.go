package ecs

import "github.com/rotisserie/eris"

var (
	// ErrEntityNotAlive is returned when an entity handle is stale, was never issued, or was
	// already despawned.
	ErrEntityNotAlive = eris.New("entity is not alive")

	// ErrComponentNotFound is returned when an entity does not carry the requested component.
	ErrComponentNotFound = eris.New("entity does not contain the component")

	// ErrComponentNotRegistered is returned when a boxed component value has a type that was never
	// registered.
	ErrComponentNotRegistered = eris.New("component type is not registered")

	// ErrDuplicateComponent is returned when the same component type is passed twice to a spawn.
	ErrDuplicateComponent = eris.New("duplicate component type")

	// ErrWorldLocked is returned when a structural change is attempted while systems are running.
	// Use Commands to defer the change to the end of the batch.
	ErrWorldLocked = eris.New("world is locked while systems are running")

	// ErrInvalidFilter is returned when a filter expression cannot be parsed or names an unknown
	// component.
	ErrInvalidFilter = eris.New("invalid filter")

	// ErrResourceNotFound is returned when a resource type was never inserted into the world.
	ErrResourceNotFound = eris.New("resource not found")
)
