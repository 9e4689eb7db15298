package ecs

import (
	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
)

// WorldInfo is a snapshot of the storage layout of a world.
type WorldInfo struct {
	Tick       uint32          `json:"tick"`
	Entities   int             `json:"entities"`
	Components []ComponentInfo `json:"components"`
	Archetypes []ArchetypeInfo `json:"archetypes"`
	Schedule   []BatchInfo     `json:"schedule"`
}

// ComponentInfo describes a registered component type.
type ComponentInfo struct {
	ID    ComponentID `json:"id"`
	Name  string      `json:"name"`
	Type  string      `json:"type"`
	Size  uintptr     `json:"size"`
	Align uintptr     `json:"align"`
}

// ArchetypeInfo describes one archetype and its chunks.
type ArchetypeInfo struct {
	ID            int      `json:"id"`
	Components    []string `json:"components"`
	Entities      int      `json:"entities"`
	Chunks        int      `json:"chunks"`
	SpareChunks   int      `json:"spare_chunks"`
	ChunkCapacity int      `json:"chunk_capacity"`
}

// Describe returns the storage layout of the world: every registered component, every archetype
// with its chunk usage, and the current schedule.
func (w *World) Describe() WorldInfo {
	infos := registry.all()
	components := make([]ComponentInfo, len(infos))
	for i, info := range infos {
		components[i], _ = ComponentInfoOf(info.id)
	}

	archetypes := make([]ArchetypeInfo, len(w.state.archetypes))
	for i, arch := range w.state.archetypes {
		archetypes[i] = ArchetypeInfo{
			ID:            arch.id,
			Components:    archetypeNames(arch),
			Entities:      arch.count,
			Chunks:        len(arch.chunks),
			SpareChunks:   len(arch.spare),
			ChunkCapacity: arch.chunkCap,
		}
	}

	return WorldInfo{
		Tick:       w.state.tick,
		Entities:   w.state.entities.count(),
		Components: components,
		Archetypes: archetypes,
		Schedule:   w.Schedule(),
	}
}

// DumpJSON returns Describe as indented JSON.
func (w *World) DumpJSON() ([]byte, error) {
	data, err := json.MarshalIndent(w.Describe(), "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "failed to marshal world description")
	}
	return data, nil
}
