// Command student is the terminal client a student uses to join and follow
// a live session.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/liveclass/internal/config"
	"github.com/stemsi/liveclass/internal/database"
	"github.com/stemsi/liveclass/internal/live"
	"github.com/stemsi/liveclass/internal/localstore"
	"github.com/stemsi/liveclass/internal/logger"
	"github.com/stemsi/liveclass/internal/realtime"
	"github.com/stemsi/liveclass/internal/repository"
	"golang.org/x/term"
)

func main() {
	var code, name, school, gatewayURL, dataPath string
	var direct bool
	flag.StringVar(&code, "code", "", "Join code to resume or join with")
	flag.StringVar(&name, "name", "", "Display name used to join when -code is given")
	flag.StringVar(&school, "school", "", "Optional school shown to the teacher")
	flag.StringVar(&gatewayURL, "gateway", "", "Realtime gateway URL (default GATEWAY_URL)")
	flag.StringVar(&dataPath, "data", "", "Device database file (default LOCAL_DB_PATH)")
	flag.BoolVar(&direct, "redis", false, "Talk to Redis directly instead of the gateway (development)")
	flag.Parse()

	cfg := config.Load()
	if gatewayURL != "" {
		cfg.GatewayURL = gatewayURL
	}
	if dataPath != "" {
		cfg.LocalDBPath = dataPath
	}

	log, logFile, err := logger.SetupFile(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot open log file %s: %v\n", cfg.LogFile, err)
		os.Exit(1)
	}
	defer logFile.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := localstore.Open(cfg.LocalDBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open device storage")
	}
	defer db.Close()

	store, gateway, closeStore, err := openStore(ctx, cfg, direct, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open realtime store")
	}
	defer closeStore()

	client := live.New(live.Options{
		Sessions:          repository.NewSessionRepository(store),
		Identity:          localstore.NewIdentityStore(db),
		Pointer:           localstore.NewPointerStore(db),
		Retrier:           live.NewRetrier(cfg.RetryAttempts, cfg.RetryDelay, log),
		HeartbeatInterval: cfg.HeartbeatInterval,
		Log:               log,
	})
	defer client.Close()

	if gateway != nil {
		gateway.OnConnectionChange(func(online bool) {
			client.SetNetworkOnline(ctx, online)
		})
		if err := gateway.Connect(ctx); err != nil {
			// Not fatal: the store dials again on first use.
			log.Warn().Err(err).Str("url", cfg.GatewayURL).Msg("Gateway not reachable yet")
		}
	}

	console, restore, err := openConsole()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open terminal")
	}
	defer restore()

	ui := &UI{client: client, out: console, log: log}
	ui.Resume(ctx, code, name, school)

	go ui.Render(ctx)

	lines := make(chan string)
	go func() {
		defer close(lines)
		for {
			line, err := console.ReadLine()
			if err != nil {
				return
			}
			lines <- line
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok || !ui.Exec(ctx, line) {
				return
			}
		}
	}
}

// openStore returns the gateway client, or a direct Redis store when direct
// is set. The gateway is returned separately so connectivity can be wired.
func openStore(ctx context.Context, cfg *config.Config, direct bool, log zerolog.Logger) (realtime.Store, *realtime.WSStore, func(), error) {
	if direct {
		rdb, err := database.NewRedisClient(ctx, cfg.RedisURL, log)
		if err != nil {
			return nil, nil, nil, err
		}
		return realtime.NewRedisStore(rdb, log), nil, func() { closeRedis(rdb, log) }, nil
	}

	ws := realtime.NewWSStore(cfg.GatewayURL, nil, log)
	return ws, ws, func() { _ = ws.Close() }, nil
}

func closeRedis(rdb *redis.Client, log zerolog.Logger) {
	if err := rdb.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close Redis client")
	}
}

// Console reads command lines and shows output.
type Console interface {
	io.Writer
	ReadLine() (string, error)
}

// openConsole puts an interactive terminal into raw mode with line editing,
// or falls back to plain line reads when stdin is piped.
func openConsole() (Console, func(), error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return &plainConsole{r: bufio.NewReader(os.Stdin), w: os.Stdout}, func() {}, nil
	}

	old, err := term.MakeRaw(fd)
	if err != nil {
		return nil, nil, err
	}
	t := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}, "> ")
	if w, h, err := term.GetSize(fd); err == nil {
		_ = t.SetSize(w, h)
	}
	return t, func() { _ = term.Restore(fd, old) }, nil
}

type plainConsole struct {
	r *bufio.Reader
	w io.Writer
}

func (p *plainConsole) Write(b []byte) (int, error) { return p.w.Write(b) }

func (p *plainConsole) ReadLine() (string, error) {
	line, err := p.r.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
