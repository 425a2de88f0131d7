package bot

import (
	"math"

	"github.com/automcagent/mcbridge/internal/protocol"
)

type EventKind string

const (
	EventSpawn  EventKind = "spawn"
	EventHealth EventKind = "health"
	EventDeath  EventKind = "death"
	EventKicked EventKind = "kicked"
	EventError  EventKind = "error"
	EventEnd    EventKind = "end"
	EventChat   EventKind = "chat"
)

// Event is one lifecycle notification emitted by a session. Only the fields
// relevant to Kind are set.
type Event struct {
	Kind     EventKind
	Username string
	Message  string
	Reason   string
	Err      error
	Fatal    bool
}

// Entity is the bot's own entity. It exists only after spawn.
type Entity struct {
	Position               protocol.Vec3
	Velocity               protocol.Vec3
	Yaw                    float64
	Pitch                  float64
	OnGround               bool
	IsInWater              bool
	IsInLava               bool
	IsCollidedHorizontally bool
	IsCollidedVertically   bool
}

// Block is what the session knows about a loaded block. An empty Biome means
// the biome is unknown.
type Block struct {
	Name  string
	Biome string
	Light int
}

// Session is the live game connection the relay reads from.
type Session interface {
	Entity() (Entity, bool)
	Health() float64
	Food() int
	FoodSaturation() float64
	Experience() protocol.Experience
	GameMode() string
	BlockAt(pos protocol.Vec3) (Block, bool)

	// Subscribe returns a channel of events and a cancel func. The channel
	// is closed after the session ends or when cancel is called.
	Subscribe(buffer int) (<-chan Event, func())

	// Quit asks the session to disconnect; an EventEnd follows.
	Quit(reason string) error
}

// Snapshot reads the session's current fields. It reports false while the
// session has no entity. Missing block data is replaced with a null biome
// and a zero light level.
func Snapshot(s Session) (protocol.BotState, bool) {
	entity, ok := s.Entity()
	if !ok {
		return protocol.BotState{}, false
	}

	state := protocol.BotState{
		Health:                 s.Health(),
		Food:                   s.Food(),
		FoodSaturation:         s.FoodSaturation(),
		Position:               entity.Position,
		Velocity:               entity.Velocity,
		Yaw:                    entity.Yaw,
		Pitch:                  entity.Pitch,
		OnGround:               entity.OnGround,
		IsInWater:              entity.IsInWater,
		IsInLava:               entity.IsInLava,
		IsCollidedHorizontally: entity.IsCollidedHorizontally,
		IsCollidedVertically:   entity.IsCollidedVertically,
		Experience:             s.Experience(),
	}

	block, found := s.BlockAt(entity.Position)
	if found && block.Biome != "" {
		biome := block.Biome
		state.Biome = &biome
	}
	if found && entity.Position.Y >= 0 {
		state.LightLevel = block.Light
	}
	return state, true
}

type blockKey struct {
	x, y, z int
}

func keyOf(pos protocol.Vec3) blockKey {
	return blockKey{
		x: int(math.Floor(pos.X)),
		y: int(math.Floor(pos.Y)),
		z: int(math.Floor(pos.Z)),
	}
}
