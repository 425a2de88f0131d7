// Command mcbridge runs the bridge between a controller and a bot session.
//
// With no subcommand it serves the bridge: WebSocket relay for the controller,
// optional MCP endpoint at /mcp, and an optional ngrok tunnel. The send and
// watch subcommands are small controller clients for poking at a running
// bridge.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/automcagent/mcbridge/internal/agent"
	"github.com/automcagent/mcbridge/internal/bot"
	"github.com/automcagent/mcbridge/internal/command"
	"github.com/automcagent/mcbridge/internal/config"
	"github.com/automcagent/mcbridge/internal/mcptools"
	"github.com/automcagent/mcbridge/internal/store"
	"github.com/automcagent/mcbridge/internal/ws"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/pterm/pterm"
	"github.com/urfave/cli/v3"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"
)

const (
	AppName = "mcbridge"
	Version = "0.1.0"
)

func main() {
	// .env is optional
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			pterm.Warning.Printfln("load .env failed: %v", err)
		}
	} else {
		pterm.Debug.Println("loaded environment from .env")
	}

	app := &cli.Command{
		Name:    AppName,
		Usage:   "WebSocket bridge between a controller and a Minecraft bot",
		Version: Version,
		Flags:   serveFlags(),
		Action:  runServe,
		Commands: []*cli.Command{
			sendCommand(),
			watchCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		pterm.Error.Printfln("%v", err)
		os.Exit(1)
	}
}

func serveFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "config file (.json, .jsonc, .yaml)",
			Sources: cli.EnvVars("MCBRIDGE_CONFIG"),
		},
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "bridge port",
		},
		&cli.StringFlag{
			Name:  "listen",
			Usage: "bridge listen address, overrides --port",
		},
		&cli.StringFlag{
			Name:  "auth-token",
			Usage: "require this bearer token from controllers",
		},
		&cli.StringFlag{
			Name:  "redis-addr",
			Usage: "store command results in redis at this address",
		},
		&cli.BoolFlag{
			Name:  "ngrok",
			Usage: "expose the bridge through an ngrok tunnel",
		},
		&cli.BoolFlag{
			Name:  "no-mcp",
			Usage: "disable the /mcp endpoint",
		},
		&cli.BoolFlag{
			Name:    "debug",
			Aliases: []string{"d"},
			Usage:   "debug logging",
		},
	}
}

func loadConfig(cmd *cli.Command) (config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return config.Config{}, err
	}
	if cmd.IsSet("port") {
		cfg.SetListenPort(int(cmd.Int("port")))
	}
	if cmd.IsSet("listen") {
		cfg.Bridge.ListenAddr = cmd.String("listen")
	}
	if cmd.IsSet("auth-token") {
		cfg.Bridge.AuthToken = cmd.String("auth-token")
	}
	if cmd.IsSet("redis-addr") {
		cfg.Store.RedisAddr = cmd.String("redis-addr")
	}
	if cmd.Bool("ngrok") {
		cfg.Ngrok.Enabled = true
	}
	if cmd.Bool("no-mcp") {
		cfg.MCP.Enabled = false
	}
	if cmd.Bool("debug") {
		cfg.Logging.Debug = true
	}
	return cfg, nil
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Logging.Debug {
		pterm.EnableDebugMessages()
	}

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	b, err := bot.NewGameClient(bot.Options{
		Host:     cfg.Bot.Host,
		Port:     cfg.Bot.Port,
		Username: cfg.Bot.Username,
		Version:  cfg.Bot.Version,
		Auth:     cfg.Bot.Auth,
	})
	if err != nil {
		return err
	}
	executor := command.NewExecutor(command.DefaultRegistry(), b, st, command.Options{
		Timeout:   cfg.CommandTimeout(),
		ResultTTL: cfg.ResultTTL(),
	})
	relay := ws.NewRelay(b, executor, ws.Options{AuthToken: cfg.Bridge.AuthToken})
	if cfg.MCP.Enabled {
		relay.Handle("/mcp", mcptools.New(executor, Version))
	}
	runner := agent.NewRunner(b, relay, cfg.StateInterval())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- relay.ListenAndServe(cfg.Bridge.ListenAddr)
	}()
	pterm.Info.Printfln("controller endpoint: ws://%s/", cfg.Bridge.ListenAddr)
	if cfg.MCP.Enabled {
		pterm.Info.Printfln("MCP endpoint: http://%s/mcp", cfg.Bridge.ListenAddr)
	}

	if cfg.Ngrok.Enabled {
		go runTunnel(ctx, cfg.Ngrok, relay)
	}
	if mem, ok := st.(*store.MemoryStore); ok {
		go pruneLoop(ctx, mem, cfg.ResultTTL())
	}

	pterm.Info.Printfln("connecting bot %s to %s:%d (version %s, auth %s)",
		cfg.Bot.Username, cfg.Bot.Host, cfg.Bot.Port, cfg.Bot.Version, cfg.Bot.Auth)
	runDone := make(chan agent.StopReason, 1)
	go func() { runDone <- runner.Run(ctx) }()
	if err := b.Connect(); err != nil {
		_ = b.Quit("connect failed")
		<-runDone
		return errors.Wrap(err, "bot connect failed")
	}
	go b.Run()

	select {
	case err := <-serveErr:
		if err != nil {
			stop()
			<-runDone
			return errors.Wrap(err, "bridge server failed")
		}
		<-runDone
	case reason := <-runDone:
		pterm.Info.Printfln("shutting down: %s", reason)
	}
	pterm.Success.Println("bridge stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	if cfg.Store.RedisAddr == "" {
		pterm.Info.Println("use memory result store")
		return store.NewMemoryStore(), func() {}, nil
	}

	rs := store.NewRedisStore(cfg.Store.RedisAddr)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rs.Ping(pingCtx); err != nil {
		_ = rs.Close()
		return nil, nil, errors.Wrapf(err, "redis at %s", cfg.Store.RedisAddr)
	}
	pterm.Info.Printfln("use redis result store: %s", cfg.Store.RedisAddr)
	return rs, func() {
		if err := rs.Close(); err != nil {
			pterm.Warning.Printfln("close redis failed: %v", err)
		}
	}, nil
}

// runTunnel serves the relay through ngrok until ctx ends or the relay
// closes.
func runTunnel(ctx context.Context, cfg config.NgrokConfig, relay *ws.Relay) {
	if cfg.AuthToken == "" {
		pterm.Warning.Println("ngrok enabled but no auth token (set NGROK_AUTHTOKEN or ngrok.auth_token)")
		return
	}

	var endpoint ngrokConfig.Tunnel
	if cfg.Domain != "" {
		endpoint = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(cfg.Domain))
	} else {
		endpoint = ngrokConfig.HTTPEndpoint()
	}

	pterm.Info.Println("starting ngrok tunnel...")
	tun, err := ngrok.Listen(ctx, endpoint, ngrok.WithAuthtoken(cfg.AuthToken))
	if err != nil {
		pterm.Error.Printfln("start ngrok tunnel failed: %v", err)
		return
	}
	pterm.Success.Printfln("ngrok tunnel established: %s", tun.URL())

	if err := relay.Serve(tun); err != nil {
		pterm.Error.Printfln("ngrok serve failed: %v", err)
	}
	pterm.Info.Println("ngrok tunnel closed")
}

func pruneLoop(ctx context.Context, mem *store.MemoryStore, ttl time.Duration) {
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := mem.Prune(); n > 0 {
				pterm.Debug.Printfln("pruned %d expired results", n)
			}
		}
	}
}
