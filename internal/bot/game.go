package bot

import (
	"io"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"

	mcbot "github.com/Tnze/go-mc/bot"
	"github.com/Tnze/go-mc/bot/basic"
	"github.com/Tnze/go-mc/bot/msg"
	"github.com/Tnze/go-mc/bot/playerlist"
	"github.com/Tnze/go-mc/chat"
	"github.com/Tnze/go-mc/data/packetid"
	pk "github.com/Tnze/go-mc/net/packet"
	"github.com/Tnze/go-mc/offline"
	"github.com/automcagent/mcbridge/internal/protocol"
	"github.com/pkg/errors"
	"github.com/pterm/pterm"
)

// GameVersion is the Java Edition release GameClient speaks.
const GameVersion = "1.20.2"

var ErrAuthUnsupported = errors.New("only offline auth is supported")

// Teleport flags mark which fields of a position packet are relative.
const (
	relX     = 0x01
	relY     = 0x02
	relZ     = 0x04
	relYaw   = 0x08
	relPitch = 0x10
)

// GameClient is a Session backed by a Java Edition server connection.
// Packet handlers feed the embedded Bot, which serves every read.
type GameClient struct {
	*Bot

	mc     *mcbot.Client
	player *basic.Player

	// Owned by the packet loop.
	entityID      int32
	gameMode      string
	awaitingSpawn bool
	yaw, pitch    float32

	connMu    sync.Mutex
	connected bool
}

func NewGameClient(opts Options) (*GameClient, error) {
	if opts.Auth != "" && !strings.EqualFold(opts.Auth, "offline") {
		return nil, errors.Wrapf(ErrAuthUnsupported, "auth %q", opts.Auth)
	}
	if opts.Version != "" && opts.Version != GameVersion {
		pterm.Warning.Printfln("configured version %s, client speaks %s", opts.Version, GameVersion)
	}

	g := &GameClient{
		Bot:           New(opts),
		mc:            mcbot.NewClient(),
		gameMode:      "survival",
		awaitingSpawn: true,
	}
	g.mc.Auth.Name = opts.Username
	g.mc.Auth.UUID = offline.NameToUUID(opts.Username).String()

	g.player = basic.NewPlayer(g.mc, basic.DefaultSettings, basic.EventsListener{
		GameStart:  g.onGameStart,
		Disconnect: g.onDisconnect,
		Death:      g.onDeath,
	})
	msg.New(g.mc, g.player, playerlist.New(g.mc), msg.EventsHandler{
		SystemChat:        g.onSystemChat,
		PlayerChatMessage: g.onPlayerChat,
		DisguisedChat:     g.onDisguisedChat,
	})
	g.mc.Events.AddListener(
		mcbot.PacketHandler{Priority: 64, ID: packetid.ClientboundLogin, F: g.handleLogin},
		mcbot.PacketHandler{Priority: 64, ID: packetid.ClientboundRespawn, F: g.handleRespawn},
		mcbot.PacketHandler{Priority: 64, ID: packetid.ClientboundPlayerPosition, F: g.handlePosition},
		mcbot.PacketHandler{Priority: 64, ID: packetid.ClientboundSetHealth, F: g.handleHealth},
		mcbot.PacketHandler{Priority: 64, ID: packetid.ClientboundSetExperience, F: g.handleExperience},
		mcbot.PacketHandler{Priority: 64, ID: packetid.ClientboundSetEntityMotion, F: g.handleMotion},
		mcbot.PacketHandler{Priority: 64, ID: packetid.ClientboundGameEvent, F: g.handleGameEvent},
	)
	return g, nil
}

// Connect dials the server and completes login. Packets are not processed
// until Run is called.
func (g *GameClient) Connect() error {
	addr := net.JoinHostPort(g.opts.Host, strconv.Itoa(g.opts.Port))
	if err := g.mc.JoinServer(addr); err != nil {
		return errors.Wrapf(err, "join %s", addr)
	}
	g.connMu.Lock()
	g.connected = true
	g.connMu.Unlock()
	if g.Ended() {
		g.closeConn()
		return ErrSessionEnded
	}
	pterm.Success.Printfln("bot %s joined %s", g.opts.Username, addr)
	return nil
}

// Run processes packets until the connection drops or the session ends.
// Handler errors are reported and skipped; a read error ends the session.
func (g *GameClient) Run() {
	defer g.closeConn()
	for {
		err := g.mc.HandleGame()
		if g.Ended() {
			return
		}
		var perr mcbot.PacketHandlerError
		if errors.As(err, &perr) {
			pterm.Warning.Printfln("packet 0x%02x: %v", int32(perr.ID), perr.Err)
			g.Fail(perr, false)
			continue
		}
		if err == nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			g.end("socketClosed")
			return
		}
		g.Fail(err, true)
		return
	}
}

func (g *GameClient) Quit(reason string) error {
	if err := g.Bot.Quit(reason); err != nil {
		return err
	}
	g.closeConn()
	return nil
}

func (g *GameClient) closeConn() {
	g.connMu.Lock()
	defer g.connMu.Unlock()
	if !g.connected {
		return
	}
	g.connected = false
	if err := g.mc.Close(); err != nil {
		pterm.Debug.Printfln("close game connection: %v", err)
	}
}

func (g *GameClient) handleLogin(p pk.Packet) error {
	var (
		eid                                   pk.Int
		hardcore                              pk.Boolean
		dimensions                            []pk.Identifier
		maxPlayers, viewDistance, simDistance pk.VarInt
		reducedDebug, respawnScreen, limited  pk.Boolean
		dimType, dimName                      pk.Identifier
		seed                                  pk.Long
		mode                                  pk.UnsignedByte
	)
	if err := p.Scan(&eid, &hardcore, pk.Array(&dimensions),
		&maxPlayers, &viewDistance, &simDistance,
		&reducedDebug, &respawnScreen, &limited,
		&dimType, &dimName, &seed, &mode); err != nil {
		return errors.Wrap(err, "decode login")
	}
	g.entityID = int32(eid)
	g.gameMode = gameModeName(byte(mode))
	g.awaitingSpawn = true
	pterm.Debug.Printfln("login: eid=%d dimension=%s mode=%s", g.entityID, dimName, g.gameMode)
	return nil
}

func (g *GameClient) handleRespawn(p pk.Packet) error {
	var (
		dimType, dimName pk.Identifier
		seed             pk.Long
		mode             pk.UnsignedByte
	)
	if err := p.Scan(&dimType, &dimName, &seed, &mode); err != nil {
		return errors.Wrap(err, "decode respawn")
	}
	g.gameMode = gameModeName(byte(mode))
	g.awaitingSpawn = true
	return nil
}

// handlePosition applies a server teleport. The first one after login or
// respawn spawns the entity.
func (g *GameClient) handlePosition(p pk.Packet) error {
	var (
		x, y, z    pk.Double
		yaw, pitch pk.Float
		flags      pk.Byte
		teleportID pk.VarInt
	)
	if err := p.Scan(&x, &y, &z, &yaw, &pitch, &flags, &teleportID); err != nil {
		return errors.Wrap(err, "decode player position")
	}

	entity, _ := g.Entity()
	pos := protocol.Vec3{X: float64(x), Y: float64(y), Z: float64(z)}
	if flags&relX != 0 {
		pos.X += entity.Position.X
	}
	if flags&relY != 0 {
		pos.Y += entity.Position.Y
	}
	if flags&relZ != 0 {
		pos.Z += entity.Position.Z
	}
	if flags&relYaw != 0 {
		g.yaw += float32(yaw)
	} else {
		g.yaw = float32(yaw)
	}
	if flags&relPitch != 0 {
		g.pitch += float32(pitch)
	} else {
		g.pitch = float32(pitch)
	}

	if g.awaitingSpawn {
		g.awaitingSpawn = false
		if err := g.Spawn(pos, g.gameMode); err != nil {
			return nil
		}
		entity, _ = g.Entity()
	}
	entity.Position = pos
	entity.Yaw, entity.Pitch = radians(g.yaw, g.pitch)
	g.UpdateEntity(entity)
	return nil
}

func (g *GameClient) handleHealth(p pk.Packet) error {
	var (
		health, saturation pk.Float
		food               pk.VarInt
	)
	if err := p.Scan(&health, &food, &saturation); err != nil {
		return errors.Wrap(err, "decode set health")
	}
	g.SetHealth(float64(health), int(food), float64(saturation))
	return nil
}

func (g *GameClient) handleExperience(p pk.Packet) error {
	var (
		bar          pk.Float
		level, total pk.VarInt
	)
	if err := p.Scan(&bar, &level, &total); err != nil {
		return errors.Wrap(err, "decode set experience")
	}
	g.SetExperience(protocol.Experience{Level: int(level), Points: int(total), Progress: float64(bar)})
	return nil
}

// handleMotion tracks our own velocity; the packet carries 1/8000 block per
// tick units.
func (g *GameClient) handleMotion(p pk.Packet) error {
	var (
		eid        pk.VarInt
		vx, vy, vz pk.Short
	)
	if err := p.Scan(&eid, &vx, &vy, &vz); err != nil {
		return errors.Wrap(err, "decode entity motion")
	}
	if int32(eid) != g.entityID {
		return nil
	}
	entity, ok := g.Entity()
	if !ok {
		return nil
	}
	entity.Velocity = protocol.Vec3{X: float64(vx) / 8000, Y: float64(vy) / 8000, Z: float64(vz) / 8000}
	g.UpdateEntity(entity)
	return nil
}

func (g *GameClient) handleGameEvent(p pk.Packet) error {
	var (
		event pk.UnsignedByte
		value pk.Float
	)
	if err := p.Scan(&event, &value); err != nil {
		return errors.Wrap(err, "decode game event")
	}
	// 3: change game mode
	if event == 3 {
		g.gameMode = gameModeName(byte(value))
		g.SetGameMode(g.gameMode)
	}
	return nil
}

func (g *GameClient) onGameStart() error {
	pterm.Debug.Printfln("bot %s entered the game", g.opts.Username)
	return nil
}

func (g *GameClient) onDisconnect(reason chat.Message) error {
	g.Kick(reason.ClearString())
	return nil
}

func (g *GameClient) onDeath() error {
	return g.player.Respawn()
}

func (g *GameClient) onSystemChat(m chat.Message, overlay bool) error {
	if !overlay {
		pterm.Debug.Printfln("system: %s", m.ClearString())
	}
	return nil
}

func (g *GameClient) onPlayerChat(m chat.Message, _ bool) error {
	g.Chat(splitChat(m.ClearString()))
	return nil
}

func (g *GameClient) onDisguisedChat(m chat.Message) error {
	g.Chat(splitChat(m.ClearString()))
	return nil
}

// splitChat pulls the sender out of a rendered "<name> text" line. Lines in
// any other shape come back with an empty sender.
func splitChat(line string) (string, string) {
	if strings.HasPrefix(line, "<") {
		if end := strings.Index(line, "> "); end > 1 {
			return line[1:end], line[end+2:]
		}
	}
	return "", line
}

func gameModeName(mode byte) string {
	switch mode {
	case 0:
		return "survival"
	case 1:
		return "creative"
	case 2:
		return "adventure"
	case 3:
		return "spectator"
	}
	return "unknown"
}

// radians converts notchian degrees to the yaw/pitch convention controllers
// see: yaw counter-clockwise from north in [0, 2π), pitch positive upwards.
func radians(yaw, pitch float32) (float64, float64) {
	y := math.Mod(math.Pi-float64(yaw)*math.Pi/180, 2*math.Pi)
	if y < 0 {
		y += 2 * math.Pi
	}
	return y, -float64(pitch) * math.Pi / 180
}
