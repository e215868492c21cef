package world

import (
	"fmt"
	"os"
	"sort"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

// Snapshot is the serialized form of a Memory world set.
type Snapshot struct {
	Worlds     []SnapshotWorld     `json:"worlds"`
	Blocks     []SnapshotBlock     `json:"blocks"`
	Entities   []EntitySnapshot    `json:"entities"`
	Containers []SnapshotContainer `json:"containers"`
}

// SnapshotWorld names a world.
type SnapshotWorld struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// SnapshotBlock is one non-air block.
type SnapshotBlock struct {
	Location Location   `json:"location"`
	State    BlockState `json:"state"`
}

// SnapshotContainer is the content of one container.
type SnapshotContainer struct {
	Location Location    `json:"location"`
	Items    []ItemStack `json:"items"`
}

// Snapshot captures the durable state. Client-only previews are not included.
func (m *Memory) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var snap Snapshot

	for id, name := range m.worlds {
		snap.Worlds = append(snap.Worlds, SnapshotWorld{ID: id, Name: name})
	}

	for key, state := range m.blocks {
		snap.Blocks = append(snap.Blocks, SnapshotBlock{Location: m.locationOf(key), State: state})
	}

	for _, entity := range m.entities {
		snap.Entities = append(snap.Entities, entity)
	}

	for key, items := range m.containers {
		if len(items) == 0 {
			continue
		}

		snap.Containers = append(snap.Containers, SnapshotContainer{
			Location: m.locationOf(key),
			Items:    append([]ItemStack(nil), items...),
		})
	}

	// Stable output keeps snapshot files diffable
	sort.Slice(snap.Worlds, func(i, j int) bool { return snap.Worlds[i].Name < snap.Worlds[j].Name })
	sort.Slice(snap.Blocks, func(i, j int) bool { return lessLocation(snap.Blocks[i].Location, snap.Blocks[j].Location) })
	sort.Slice(snap.Entities, func(i, j int) bool { return snap.Entities[i].ID.String() < snap.Entities[j].ID.String() })
	sort.Slice(snap.Containers, func(i, j int) bool {
		return lessLocation(snap.Containers[i].Location, snap.Containers[j].Location)
	})

	return snap
}

// NewMemoryFromSnapshot rebuilds a Memory world set.
func NewMemoryFromSnapshot(snap Snapshot) *Memory {
	m := NewMemory()

	for _, w := range snap.Worlds {
		m.worlds[w.ID] = w.Name
	}

	for _, b := range snap.Blocks {
		if !b.State.IsAir() {
			m.blocks[keyOf(b.Location)] = b.State
		}
	}

	for _, e := range snap.Entities {
		m.entities[e.ID] = e
	}

	for _, c := range snap.Containers {
		m.containers[keyOf(c.Location)] = append([]ItemStack(nil), c.Items...)
	}

	return m
}

// LoadMemory reads a snapshot file. A missing file yields an empty world set.
func LoadMemory(path string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewMemory(), nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read world snapshot: %w", err)
	}

	var snap Snapshot
	if err := sonic.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode world snapshot: %w", err)
	}

	return NewMemoryFromSnapshot(snap), nil
}

// Save writes the durable state to a snapshot file.
func (m *Memory) Save(path string) error {
	data, err := sonic.ConfigStd.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode world snapshot: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write world snapshot: %w", err)
	}

	return nil
}

func (m *Memory) locationOf(key blockKey) Location {
	return Location{WorldID: key.world, WorldName: m.worlds[key.world], Vector: key.vector()}
}

func lessLocation(a, b Location) bool {
	if a.WorldName != b.WorldName {
		return a.WorldName < b.WorldName
	}

	if a.X != b.X {
		return a.X < b.X
	}

	if a.Y != b.Y {
		return a.Y < b.Y
	}

	return a.Z < b.Z
}
