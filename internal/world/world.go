// Package world defines the boundary between the audit engine and the game world.
package world

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
)

// AirMaterial is the material of an empty block.
const AirMaterial = "minecraft:air"

// LavaMaterial is the material drained by lava-draining rulesets.
const LavaMaterial = "minecraft:lava"

// FireMaterials are the blocks removed by extinguish.
var FireMaterials = []string{"minecraft:fire", "minecraft:soul_fire"}

// DropEntityType is the entity type of dropped items.
const DropEntityType = "minecraft:item"

// Chunk geometry used by chunk-scoped queries.
const (
	ChunkSize = 16
	MinHeight = -64
	MaxHeight = 319
)

var (
	// ErrEntityExists is returned when spawning an entity whose UUID is already live.
	ErrEntityExists = errors.New("entity already exists")
	// ErrUnknownWorld is returned when a location references a world that is not loaded.
	ErrUnknownWorld = errors.New("unknown world")
)

// Vector is a position in a world. Block positions are the floored components.
type Vector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Block returns the vector floored to block coordinates.
func (v Vector) Block() Vector {
	return Vector{X: math.Floor(v.X), Y: math.Floor(v.Y), Z: math.Floor(v.Z)}
}

// Add returns v shifted by n on every axis.
func (v Vector) Add(n float64) Vector {
	return Vector{X: v.X + n, Y: v.Y + n, Z: v.Z + n}
}

// Within reports whether v lies inside the box spanned by min and max, inclusive.
func (v Vector) Within(minV, maxV Vector) bool {
	return v.X >= minV.X && v.X <= maxV.X &&
		v.Y >= minV.Y && v.Y <= maxV.Y &&
		v.Z >= minV.Z && v.Z <= maxV.Z
}

func (v Vector) String() string {
	return fmt.Sprintf("%g,%g,%g", v.X, v.Y, v.Z)
}

// Location is a position inside a specific world.
type Location struct {
	WorldID   uuid.UUID `json:"worldId"`
	WorldName string    `json:"worldName"`
	Vector
}

// NewLocation creates a location from raw coordinates.
func NewLocation(worldID uuid.UUID, worldName string, x, y, z float64) Location {
	return Location{WorldID: worldID, WorldName: worldName, Vector: Vector{X: x, Y: y, Z: z}}
}

// BlockLocation returns the location floored to its block.
func (l Location) BlockLocation() Location {
	return Location{WorldID: l.WorldID, WorldName: l.WorldName, Vector: l.Block()}
}

func (l Location) String() string {
	return fmt.Sprintf("%s@%s", l.WorldName, l.Vector)
}

// BlockState is the material and serialized block data at a position.
type BlockState struct {
	Material string `json:"material"`
	Data     string `json:"data,omitempty"`
}

// Air returns the empty block state.
func Air() BlockState {
	return BlockState{Material: AirMaterial}
}

// IsAir reports whether the state is empty.
func (b BlockState) IsAir() bool {
	return b.Material == "" || b.Material == AirMaterial ||
		b.Material == "minecraft:cave_air" || b.Material == "minecraft:void_air"
}

// Equal compares two states, treating every air variant as the same block.
func (b BlockState) Equal(other BlockState) bool {
	if b.IsAir() && other.IsAir() {
		return true
	}

	return b.Material == other.Material && b.Data == other.Data
}

func (b BlockState) String() string {
	if b.Data == "" {
		return b.Material
	}

	return b.Material + "[" + b.Data + "]"
}

// ParseBlockState parses "namespace:name[data]" into a block state.
func ParseBlockState(s string) BlockState {
	material, data, found := strings.Cut(s, "[")
	if !found {
		return BlockState{Material: NamespacedKey(material)}
	}

	return BlockState{Material: NamespacedKey(material), Data: strings.TrimSuffix(data, "]")}
}

// NamespacedKey adds the default namespace to a bare material or entity name.
func NamespacedKey(name string) string {
	if name == "" || strings.Contains(name, ":") {
		return name
	}

	return "minecraft:" + name
}

// EntitySnapshot captures an entity with its serialized data.
type EntitySnapshot struct {
	ID       uuid.UUID      `json:"id"`
	Type     string         `json:"type"`
	Location Location       `json:"location"`
	Data     map[string]any `json:"data,omitempty"`
}

// ItemStack is a quantity of one material.
type ItemStack struct {
	Material string `json:"material"`
	Quantity int    `json:"quantity"`
	Data     string `json:"data,omitempty"`
}

// Owner is the actor that initiated a modification.
type Owner struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// World is everything the engine needs from the game world.
// Implementations are only called from the world-mutation thread.
type World interface {
	// WorldByName resolves a loaded world name.
	WorldByName(name string) (uuid.UUID, bool)

	// Block returns the live state at a location.
	Block(loc Location) BlockState
	// SetBlock durably changes a block, returning the old state and
	// the number of entities moved out of the way.
	SetBlock(loc Location, state BlockState) (BlockState, int)
	// SendBlockChange shows a client-only state to one owner.
	SendBlockChange(owner Owner, loc Location, state BlockState)
	// PreviewState returns the client-only state an owner currently sees, if any.
	PreviewState(owner Owner, loc Location) (BlockState, bool)

	// Entity returns a live entity.
	Entity(id uuid.UUID) (EntitySnapshot, bool)
	// SpawnEntity creates an entity from a snapshot.
	SpawnEntity(snapshot EntitySnapshot) (uuid.UUID, error)
	// RemoveEntity removes a live entity.
	RemoveEntity(id uuid.UUID) bool
	// UpdateEntity merges data into a live entity.
	UpdateEntity(id uuid.UUID, data map[string]any) bool

	// AddItems puts items into the container at a location.
	AddItems(loc Location, stack ItemStack) bool
	// RemoveItems takes items out of the container at a location.
	RemoveItems(loc Location, stack ItemStack) bool

	// DrainLava clears lava inside the box and returns how many blocks changed.
	DrainLava(worldID uuid.UUID, minV, maxV Vector) int
	// RemoveDrops removes dropped items inside the box and returns how many were removed.
	RemoveDrops(worldID uuid.UUID, minV, maxV Vector) int
	// RemoveBlocks clears blocks of the given materials inside the box and returns how many changed.
	RemoveBlocks(worldID uuid.UUID, minV, maxV Vector, materials []string) int
}
