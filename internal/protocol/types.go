package protocol

import (
	"encoding/json"
	"time"
)

const (
	TypeCommand = "command"
	TypeState   = "state"
	TypeEvent   = "event"
	TypeResult  = "result"
)

// Event names sent to the controller.
const (
	EventBridgeReady  = "bridge_ready"
	EventBotSpawned   = "bot_spawned"
	EventHealthUpdate = "health_update"
	EventBotDied      = "bot_died"
	EventBotKicked    = "bot_kicked"
	EventBotError     = "bot_error"
	EventChatMessage  = "chat_message"
)

// Envelope is the outer frame of every bridge message. Timestamp is a JSON
// number: milliseconds since epoch when written by the bridge, whatever the
// controller chose when read (the Python client sends fractional seconds).
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp float64         `json:"timestamp"`
}

// Command is an action request. ID is the correlation id in string form;
// ids that arrived as another JSON value keep their original encoding in
// RawID so the result can echo them unchanged.
type Command struct {
	ID     string
	RawID  json.RawMessage
	Action string
	Params json.RawMessage
}

type CommandResult struct {
	ID      string
	RawID   json.RawMessage
	Success bool
	Data    any
	Error   string
}

type commandWire struct {
	ID     json.RawMessage `json:"id"`
	Action json.RawMessage `json:"action"`
	Params json.RawMessage `json:"params,omitempty"`
}

type resultWire struct {
	ID      json.RawMessage `json:"id"`
	Success bool            `json:"success"`
	Data    any             `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// UnmarshalJSON reads an envelope without schema checks: a non-string type
// or timestamp is ignored rather than failing the frame.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*e = Envelope{Payload: fields["payload"]}
	_ = json.Unmarshal(fields["type"], &e.Type)
	_ = json.Unmarshal(fields["timestamp"], &e.Timestamp)
	return nil
}

func (c Command) MarshalJSON() ([]byte, error) {
	action, err := json.Marshal(c.Action)
	if err != nil {
		return nil, err
	}
	return json.Marshal(commandWire{ID: encodeID(c.ID, c.RawID), Action: action, Params: c.Params})
}

// UnmarshalJSON accepts any payload. Fields that are missing or of an
// unexpected JSON type are kept as raw text; a payload that is not an
// object yields an empty command.
func (c *Command) UnmarshalJSON(data []byte) error {
	*c = Command{}
	var w commandWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil
	}
	c.ID, c.RawID = decodeID(w.ID)
	c.Action, _ = decodeID(w.Action)
	c.Params = w.Params
	return nil
}

func (r CommandResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultWire{
		ID:      encodeID(r.ID, r.RawID),
		Success: r.Success,
		Data:    r.Data,
		Error:   r.Error,
	})
}

func (r *CommandResult) UnmarshalJSON(data []byte) error {
	var w resultWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = CommandResult{Success: w.Success, Data: w.Data, Error: w.Error}
	r.ID, r.RawID = decodeID(w.ID)
	return nil
}

// decodeID splits a JSON id into its string form and, for anything but a
// JSON string, the raw encoding. null maps to an empty id.
func decodeID(raw json.RawMessage) (string, json.RawMessage) {
	if len(raw) == 0 {
		return "", nil
	}
	keep := append(json.RawMessage(nil), raw...)
	if string(raw) == "null" {
		return "", keep
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	return string(raw), keep
}

func encodeID(id string, raw json.RawMessage) json.RawMessage {
	if len(raw) > 0 {
		return raw
	}
	b, _ := json.Marshal(id)
	return b
}

type EventPayload struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type Experience struct {
	Level    int     `json:"level"`
	Points   int     `json:"points"`
	Progress float64 `json:"progress"`
}

// BotState is the snapshot pushed on every poll tick.
type BotState struct {
	Health                 float64    `json:"health"`
	Food                   int        `json:"food"`
	FoodSaturation         float64    `json:"foodSaturation"`
	Position               Vec3       `json:"position"`
	Velocity               Vec3       `json:"velocity"`
	Yaw                    float64    `json:"yaw"`
	Pitch                  float64    `json:"pitch"`
	OnGround               bool       `json:"onGround"`
	IsInWater              bool       `json:"isInWater"`
	IsInLava               bool       `json:"isInLava"`
	IsCollidedHorizontally bool       `json:"isCollidedHorizontally"`
	IsCollidedVertically   bool       `json:"isCollidedVertically"`
	Biome                  *string    `json:"biome"`
	LightLevel             int        `json:"lightLevel"`
	Experience             Experience `json:"experience"`
}

type SpawnedData struct {
	Position Vec3   `json:"position"`
	GameMode string `json:"gameMode"`
}

type HealthData struct {
	Health float64 `json:"health"`
	Food   int     `json:"food"`
}

type DiedData struct {
	Position Vec3 `json:"position"`
}

type KickedData struct {
	Reason string `json:"reason"`
}

type ErrorData struct {
	Error string `json:"error"`
}

type ChatData struct {
	Username string `json:"username"`
	Message  string `json:"message"`
}

// NewEnvelope marshals payload and stamps the envelope with the current time.
func NewEnvelope(msgType string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Type:      msgType,
		Payload:   raw,
		Timestamp: Now(),
	}, nil
}

// Now returns the current time in epoch milliseconds.
func Now() float64 {
	return float64(time.Now().UnixMilli())
}
