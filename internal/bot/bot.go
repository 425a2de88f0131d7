package bot

import (
	"errors"
	"sync"

	"github.com/automcagent/mcbridge/internal/protocol"
	"github.com/pterm/pterm"
)

var (
	ErrSessionEnded = errors.New("session already ended")
	ErrUnknown      = errors.New("unknown session error")
)

// Options identify the game server and account the session belongs to.
type Options struct {
	Host     string
	Port     int
	Username string
	Version  string
	Auth     string
}

// Bot is an in-process Session. GameClient owns the server connection and
// feeds it through the mutator methods; tests drive it directly. Readers see
// a consistent copy under the read lock.
type Bot struct {
	opts Options

	mu         sync.RWMutex
	entity     *Entity
	health     float64
	food       int
	saturation float64
	exp        protocol.Experience
	gameMode   string
	blocks     map[blockKey]Block
	ended      bool

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

func New(opts Options) *Bot {
	return &Bot{
		opts:       opts,
		health:     20,
		food:       20,
		saturation: 5,
		blocks:     make(map[blockKey]Block),
		subs:       make(map[int]chan Event),
	}
}

func (b *Bot) Options() Options {
	return b.opts
}

func (b *Bot) Entity() (Entity, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.entity == nil {
		return Entity{}, false
	}
	return *b.entity, true
}

func (b *Bot) Health() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.health
}

func (b *Bot) Food() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.food
}

func (b *Bot) FoodSaturation() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.saturation
}

func (b *Bot) Experience() protocol.Experience {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.exp
}

func (b *Bot) GameMode() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.gameMode
}

func (b *Bot) BlockAt(pos protocol.Vec3) (Block, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	block, ok := b.blocks[keyOf(pos)]
	return block, ok
}

// Spawn creates the bot entity at pos and emits EventSpawn.
func (b *Bot) Spawn(pos protocol.Vec3, gameMode string) error {
	b.mu.Lock()
	if b.ended {
		b.mu.Unlock()
		return ErrSessionEnded
	}
	if b.entity == nil {
		b.entity = &Entity{}
	}
	b.entity.Position = pos
	b.entity.Velocity = protocol.Vec3{}
	b.entity.OnGround = true
	b.gameMode = gameMode
	b.mu.Unlock()

	b.emit(Event{Kind: EventSpawn})
	return nil
}

// UpdateEntity replaces the entity's movement fields. It is a no-op before
// spawn.
func (b *Bot) UpdateEntity(e Entity) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.entity == nil {
		return
	}
	*b.entity = e
}

// SetHealth records a health packet and emits EventHealth. Health dropping
// to zero also emits EventDeath.
func (b *Bot) SetHealth(health float64, food int, saturation float64) {
	b.mu.Lock()
	wasAlive := b.health > 0
	b.health = health
	b.food = food
	b.saturation = saturation
	b.mu.Unlock()

	b.emit(Event{Kind: EventHealth})
	if wasAlive && health <= 0 {
		b.emit(Event{Kind: EventDeath})
	}
}

func (b *Bot) SetExperience(exp protocol.Experience) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.exp = exp
}

func (b *Bot) SetGameMode(mode string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gameMode = mode
}

func (b *Bot) SetBlock(pos protocol.Vec3, block Block) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blocks[keyOf(pos)] = block
}

func (b *Bot) UnloadBlock(pos protocol.Vec3) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.blocks, keyOf(pos))
}

func (b *Bot) Chat(username, message string) {
	b.emit(Event{Kind: EventChat, Username: username, Message: message})
}

// Kick emits EventKicked followed by the end of the session.
func (b *Bot) Kick(reason string) {
	b.emit(Event{Kind: EventKicked, Reason: reason})
	b.end(reason)
}

// Fail reports a session error. Fatal errors end the session.
func (b *Bot) Fail(err error, fatal bool) {
	if err == nil {
		err = ErrUnknown
	}
	b.emit(Event{Kind: EventError, Err: err, Fatal: fatal})
	if fatal {
		b.end(err.Error())
	}
}

func (b *Bot) Quit(reason string) error {
	b.mu.RLock()
	ended := b.ended
	b.mu.RUnlock()
	if ended {
		return ErrSessionEnded
	}
	pterm.Debug.Printfln("bot quit: username=%s reason=%s", b.opts.Username, reason)
	b.end(reason)
	return nil
}

func (b *Bot) Ended() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ended
}

func (b *Bot) end(reason string) {
	b.mu.Lock()
	if b.ended {
		b.mu.Unlock()
		return
	}
	b.ended = true
	b.entity = nil
	b.mu.Unlock()

	b.emit(Event{Kind: EventEnd, Reason: reason})

	b.subMu.Lock()
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
	b.subMu.Unlock()
}

func (b *Bot) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.subMu.Lock()
	b.mu.RLock()
	ended := b.ended
	b.mu.RUnlock()
	if ended {
		b.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	b.subMu.Unlock()

	cancel := func() {
		b.subMu.Lock()
		defer b.subMu.Unlock()
		if cur, ok := b.subs[id]; ok {
			close(cur)
			delete(b.subs, id)
		}
	}
	return ch, cancel
}

func (b *Bot) emit(ev Event) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			pterm.Warning.Printfln("bot event dropped: kind=%s subscriber=%d", ev.Kind, id)
		}
	}
}
