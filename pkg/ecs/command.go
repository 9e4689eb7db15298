package ecs

import (
	"github.com/Refsa/pollus-sub003/pkg/assert"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// commandKind is the structural operation a deferred command performs.
type commandKind uint8

const (
	commandSpawn commandKind = iota
	commandDespawn
	commandAdd
	commandRemove
)

func (k commandKind) String() string {
	switch k {
	case commandSpawn:
		return "spawn"
	case commandDespawn:
		return "despawn"
	case commandAdd:
		return "add"
	case commandRemove:
		return "remove"
	default:
		return "unknown"
	}
}

type command struct {
	kind      commandKind
	entity    EntityID
	component ComponentID
	values    []Component // Spawn components, or the single added component
}

// Commands records structural changes made by a system and applies them at the end of the batch
// the system runs in. Commands are applied in the order they were recorded. A command that fails
// when applied, for example one that targets an entity despawned earlier in the tick, is logged and
// dropped without affecting the other commands.
//
// Example:
//
//	type SpawnerState struct {
//		Commands ecs.Commands
//	}
//
//	func spawner(state *SpawnerState) error {
//		e := state.Commands.Spawn(Position{}, Velocity{X: 1})
//		state.Commands.Add(e, Health{Value: 10})
//		return nil
//	}
type Commands struct {
	ws     *worldState
	buffer []command
	system string
}

func (c *Commands) init(meta *systemInitMetadata) error {
	c.ws = meta.world.state
	c.system = meta.name
	c.buffer = make([]command, 0, 16)
	meta.commands = append(meta.commands, c)
	return nil
}

// Spawn queues a spawn and returns the entity's ID right away. The ID is reserved, so it can be
// used in later commands of the same buffer, but the entity has no components until the flush.
func (c *Commands) Spawn(components ...Component) EntityID {
	assert.That(c.ws != nil, "commands used before initialization")
	eid := c.ws.entities.reserve()
	c.buffer = append(c.buffer, command{kind: commandSpawn, entity: eid, values: components})
	return eid
}

// Despawn queues the removal of an entity.
func (c *Commands) Despawn(eid EntityID) {
	c.buffer = append(c.buffer, command{kind: commandDespawn, entity: eid})
}

// Add queues adding a component to an entity. The component type must be registered.
func (c *Commands) Add(eid EntityID, component Component) {
	c.buffer = append(c.buffer, command{kind: commandAdd, entity: eid, values: []Component{component}})
}

// Remove queues removing a component from an entity.
func (c *Commands) Remove(eid EntityID, component ComponentType) {
	c.buffer = append(c.buffer, command{kind: commandRemove, entity: eid, component: component.id})
}

// Len returns the number of queued commands.
func (c *Commands) Len() int {
	return len(c.buffer)
}

// flush applies the queued commands and empties the buffer. Returns the number of commands that
// were applied.
func (c *Commands) flush(logger *zerolog.Logger) int {
	applied := 0
	for i := range c.buffer {
		cmd := &c.buffer[i]
		if err := c.apply(cmd); err != nil {
			logger.Warn().
				Err(err).
				Str("system", c.system).
				Str("op", cmd.kind.String()).
				Stringer("entity", cmd.entity).
				Msg("dropped deferred command")
			continue
		}
		applied++
	}
	c.discard()
	return applied
}

func (c *Commands) apply(cmd *command) error {
	switch cmd.kind {
	case commandSpawn:
		return c.ws.spawnReserved(cmd.entity, cmd.values)
	case commandDespawn:
		return c.ws.despawn(cmd.entity)
	case commandAdd:
		id, err := registry.idOf(cmd.values[0])
		if err != nil {
			return err
		}
		return c.ws.addComponent(cmd.entity, id, cmd.values[0])
	case commandRemove:
		return c.ws.removeComponent(cmd.entity, cmd.component)
	default:
		return eris.Errorf("unknown command kind %d", cmd.kind)
	}
}

// discard empties the buffer. Reserved entities of unapplied spawns are released.
func (c *Commands) discard() {
	for i := range c.buffer {
		if cmd := &c.buffer[i]; cmd.kind == commandSpawn && c.ws.entities.pending(cmd.entity) {
			c.ws.entities.release(cmd.entity)
		}
	}
	clear(c.buffer)
	c.buffer = c.buffer[:0]
}
