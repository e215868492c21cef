package world

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"
)

type blockKey struct {
	world   uuid.UUID
	x, y, z int64
}

func keyOf(loc Location) blockKey {
	b := loc.Block()
	return blockKey{world: loc.WorldID, x: int64(b.X), y: int64(b.Y), z: int64(b.Z)}
}

func (k blockKey) vector() Vector {
	return Vector{X: float64(k.x), Y: float64(k.y), Z: float64(k.z)}
}

// Memory is an in-process World backed by maps.
type Memory struct {
	mu         sync.RWMutex
	worlds     map[uuid.UUID]string
	blocks     map[blockKey]BlockState
	entities   map[uuid.UUID]EntitySnapshot
	containers map[blockKey][]ItemStack
	previews   map[uuid.UUID]map[blockKey]BlockState
}

// NewMemory creates an empty in-memory world set.
func NewMemory() *Memory {
	return &Memory{
		worlds:     make(map[uuid.UUID]string),
		blocks:     make(map[blockKey]BlockState),
		entities:   make(map[uuid.UUID]EntitySnapshot),
		containers: make(map[blockKey][]ItemStack),
		previews:   make(map[uuid.UUID]map[blockKey]BlockState),
	}
}

// AddWorld registers a loaded world.
func (m *Memory) AddWorld(id uuid.UUID, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.worlds[id] = name
}

// WorldByName resolves a loaded world name.
func (m *Memory) WorldByName(name string) (uuid.UUID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for id, worldName := range m.worlds {
		if worldName == name {
			return id, true
		}
	}

	return uuid.Nil, false
}

// Block returns the live state at a location.
func (m *Memory) Block(loc Location) BlockState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if state, ok := m.blocks[keyOf(loc)]; ok {
		return state
	}

	return Air()
}

// SetBlock durably changes a block and pushes standing entities up when the block becomes solid.
func (m *Memory) SetBlock(loc Location, state BlockState) (BlockState, int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := keyOf(loc)

	old, ok := m.blocks[key]
	if !ok {
		old = Air()
	}

	if state.IsAir() {
		delete(m.blocks, key)
	} else {
		m.blocks[key] = state
	}

	// A durable change supersedes whatever any owner was previewing here
	for _, faux := range m.previews {
		delete(faux, key)
	}

	moved := 0

	if !state.IsAir() {
		for id, entity := range m.entities {
			if keyOf(entity.Location) == key {
				entity.Location.Y = float64(key.y) + 1
				m.entities[id] = entity
				moved++
			}
		}
	}

	return old, moved
}

// SendBlockChange records a client-only state for one owner.
// Sending the live state clears the faux entry.
func (m *Memory) SendBlockChange(owner Owner, loc Location, state BlockState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := keyOf(loc)

	live, ok := m.blocks[key]
	if !ok {
		live = Air()
	}

	faux := m.previews[owner.ID]
	if live.Equal(state) {
		if faux != nil {
			delete(faux, key)
		}
		return
	}

	if faux == nil {
		faux = make(map[blockKey]BlockState)
		m.previews[owner.ID] = faux
	}

	faux[key] = state
}

// PreviewState returns the client-only state an owner sees at a location.
func (m *Memory) PreviewState(owner Owner, loc Location) (BlockState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.previews[owner.ID][keyOf(loc)]

	return state, ok
}

// PreviewCount returns how many faux blocks an owner currently sees.
func (m *Memory) PreviewCount(owner Owner) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.previews[owner.ID])
}

// Entity returns a live entity.
func (m *Memory) Entity(id uuid.UUID) (EntitySnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entity, ok := m.entities[id]
	if ok {
		entity.Data = maps.Clone(entity.Data)
	}

	return entity, ok
}

// Entities returns every live entity in a world.
func (m *Memory) Entities(worldID uuid.UUID) []EntitySnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]EntitySnapshot, 0)
	for _, entity := range m.entities {
		if entity.Location.WorldID == worldID {
			entity.Data = maps.Clone(entity.Data)
			result = append(result, entity)
		}
	}

	return result
}

// SpawnEntity creates an entity, assigning a new UUID when the snapshot has none.
func (m *Memory) SpawnEntity(snapshot EntitySnapshot) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.worlds[snapshot.Location.WorldID]; !ok {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrUnknownWorld, snapshot.Location.WorldID)
	}

	if snapshot.ID == uuid.Nil {
		snapshot.ID = uuid.New()
	}

	if _, exists := m.entities[snapshot.ID]; exists {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrEntityExists, snapshot.ID)
	}

	snapshot.Data = maps.Clone(snapshot.Data)
	m.entities[snapshot.ID] = snapshot

	return snapshot.ID, nil
}

// RemoveEntity removes a live entity.
func (m *Memory) RemoveEntity(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entities[id]; !ok {
		return false
	}

	delete(m.entities, id)

	return true
}

// UpdateEntity merges data into a live entity.
func (m *Memory) UpdateEntity(id uuid.UUID, data map[string]any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	entity, ok := m.entities[id]
	if !ok {
		return false
	}

	if entity.Data == nil {
		entity.Data = make(map[string]any, len(data))
	}

	maps.Copy(entity.Data, data)
	m.entities[id] = entity

	return true
}

// Container returns a copy of the items stored at a location.
func (m *Memory) Container(loc Location) []ItemStack {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := m.containers[keyOf(loc)]

	return append([]ItemStack(nil), items...)
}

// AddItems merges a stack into the container at a location.
func (m *Memory) AddItems(loc Location, stack ItemStack) bool {
	if stack.Quantity <= 0 {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := keyOf(loc)
	items := m.containers[key]

	for i := range items {
		if items[i].Material == stack.Material && items[i].Data == stack.Data {
			items[i].Quantity += stack.Quantity
			return true
		}
	}

	m.containers[key] = append(items, stack)

	return true
}

// RemoveItems takes a stack out of the container, failing when not enough is stored.
func (m *Memory) RemoveItems(loc Location, stack ItemStack) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := keyOf(loc)
	items := m.containers[key]

	for i := range items {
		if items[i].Material != stack.Material || items[i].Data != stack.Data {
			continue
		}

		if items[i].Quantity < stack.Quantity {
			return false
		}

		items[i].Quantity -= stack.Quantity
		if items[i].Quantity == 0 {
			m.containers[key] = append(items[:i], items[i+1:]...)
		}

		return true
	}

	return false
}

// DrainLava clears lava blocks inside the box.
func (m *Memory) DrainLava(worldID uuid.UUID, minV, maxV Vector) int {
	return m.RemoveBlocks(worldID, minV, maxV, []string{LavaMaterial})
}

// RemoveBlocks clears blocks of the given materials inside the box.
func (m *Memory) RemoveBlocks(worldID uuid.UUID, minV, maxV Vector, materials []string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0

	for key, state := range m.blocks {
		if key.world == worldID && slices.Contains(materials, state.Material) && key.vector().Within(minV, maxV) {
			delete(m.blocks, key)
			removed++
		}
	}

	return removed
}

// RemoveDrops removes dropped item entities inside the box.
func (m *Memory) RemoveDrops(worldID uuid.UUID, minV, maxV Vector) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0

	for id, entity := range m.entities {
		if entity.Type == DropEntityType &&
			entity.Location.WorldID == worldID &&
			entity.Location.Block().Within(minV, maxV) {
			delete(m.entities, id)
			removed++
		}
	}

	return removed
}

var _ World = (*Memory)(nil)
