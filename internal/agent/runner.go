// Package agent drives a bot session through the bridge: it forwards session
// events to the controller, pushes state snapshots on a fixed period, and
// shuts the bridge down when the session ends.
package agent

import (
	"context"
	"time"

	"github.com/automcagent/mcbridge/internal/bot"
	"github.com/automcagent/mcbridge/internal/protocol"
	"github.com/pterm/pterm"
)

// Relay is the part of the bridge the runner writes to.
type Relay interface {
	SendEvent(event string, data any)
	SendState() bool
	Close() error
}

type StopReason string

const (
	StopInterrupted  StopReason = "interrupted"
	StopSessionEnded StopReason = "session_ended"
	StopKicked       StopReason = "kicked"
	StopFatalError   StopReason = "fatal_error"
)

type Runner struct {
	session  bot.Session
	relay    Relay
	interval time.Duration

	events      <-chan bot.Event
	unsubscribe func()
}

// NewRunner subscribes to the session right away so no event emitted
// before Run is lost.
func NewRunner(session bot.Session, relay Relay, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	events, unsubscribe := session.Subscribe(256)
	return &Runner{
		session:     session,
		relay:       relay,
		interval:    interval,
		events:      events,
		unsubscribe: unsubscribe,
	}
}

// Run blocks until the session terminates or ctx is cancelled. Cancellation
// asks the session to quit. In both cases the relay is closed before Run
// returns.
func (r *Runner) Run(ctx context.Context) StopReason {
	defer r.unsubscribe()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	reason := r.loop(ctx, r.events, ticker.C)

	if reason == StopInterrupted {
		if err := r.session.Quit("interrupted"); err != nil {
			pterm.Debug.Printfln("session quit: %v", err)
		}
	}
	if err := r.relay.Close(); err != nil {
		pterm.Warning.Printfln("close bridge failed: %v", err)
	}
	pterm.Info.Printfln("runner stopped: reason=%s", reason)
	return reason
}

func (r *Runner) loop(ctx context.Context, events <-chan bot.Event, tick <-chan time.Time) StopReason {
	for {
		select {
		case <-ctx.Done():
			return StopInterrupted

		case <-tick:
			r.relay.SendState()

		case ev, ok := <-events:
			if !ok {
				return StopSessionEnded
			}
			if reason, stop := r.forward(ev); stop {
				return reason
			}
		}
	}
}

// forward relays one session event and reports whether it terminates the
// session.
func (r *Runner) forward(ev bot.Event) (StopReason, bool) {
	switch ev.Kind {
	case bot.EventSpawn:
		pterm.Success.Println("bot spawned in game")
		entity, _ := r.session.Entity()
		r.relay.SendEvent(protocol.EventBotSpawned, protocol.SpawnedData{
			Position: entity.Position,
			GameMode: r.session.GameMode(),
		})

	case bot.EventHealth:
		r.relay.SendEvent(protocol.EventHealthUpdate, protocol.HealthData{
			Health: r.session.Health(),
			Food:   r.session.Food(),
		})

	case bot.EventDeath:
		pterm.Warning.Println("bot died")
		entity, _ := r.session.Entity()
		r.relay.SendEvent(protocol.EventBotDied, protocol.DiedData{Position: entity.Position})

	case bot.EventChat:
		pterm.Info.Printfln("chat: <%s> %s", ev.Username, ev.Message)
		r.relay.SendEvent(protocol.EventChatMessage, protocol.ChatData{
			Username: ev.Username,
			Message:  ev.Message,
		})

	case bot.EventKicked:
		pterm.Warning.Printfln("bot kicked: %s", ev.Reason)
		r.relay.SendEvent(protocol.EventBotKicked, protocol.KickedData{Reason: ev.Reason})
		return StopKicked, true

	case bot.EventError:
		msg := ""
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		pterm.Error.Printfln("bot error: fatal=%v err=%s", ev.Fatal, msg)
		r.relay.SendEvent(protocol.EventBotError, protocol.ErrorData{Error: msg})
		if ev.Fatal {
			return StopFatalError, true
		}

	case bot.EventEnd:
		pterm.Info.Printfln("bot disconnected: %s", ev.Reason)
		return StopSessionEnded, true
	}
	return "", false
}
