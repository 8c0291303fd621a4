package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/DoyleJ11/tetris-backend/internal/config"
	"github.com/DoyleJ11/tetris-backend/internal/httpapi"
	"github.com/DoyleJ11/tetris-backend/internal/hub"
	"github.com/DoyleJ11/tetris-backend/internal/instance"
	"github.com/DoyleJ11/tetris-backend/internal/lobby"
	"github.com/DoyleJ11/tetris-backend/internal/store"
	"github.com/DoyleJ11/tetris-backend/internal/transport"
)

type userList []string

func (u *userList) String() string { return strings.Join(*u, ",") }

func (u *userList) Set(v string) error {
	*u = append(*u, v)
	return nil
}

func main() {
	var users userList
	mode := flag.String("mode", "matchmaking", "matchmaking or instance")
	flag.Var(&users, "user", "player key the instance should expect (repeatable, instance mode)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := cfg.Logger()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}

	err = run(cfg, *mode, users, log)
	if err != nil {
		log.Error("server stopped", zap.Error(err))
	} else {
		log.Info("shut down")
	}
	_ = log.Sync()
	if err != nil {
		os.Exit(1)
	}
}

// run owns every resource main opens, so its defers run on each exit path.
func run(cfg config.Config, mode string, users []string, log *zap.Logger) error {
	if mode != "matchmaking" && mode != "instance" {
		return fmt.Errorf("unknown mode %q", mode)
	}
	if mode == "instance" && len(users) < 2 {
		return errors.New("instance mode needs at least two -user flags")
	}

	var rec store.Recorder = store.NewMemory(100)
	if cfg.DatabaseURL != "" {
		db, err := store.Open(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		rec = db
	}

	httpLn, tcpLn, err := listen(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h := hub.NewHub(ctx, log)
	defer h.Shutdown()

	icfg := instance.DefaultConfig()
	icfg.Tick = cfg.Tick
	icfg.Linger = cfg.Linger
	game := func(roster []string) hub.SessionFunc {
		return instance.Session(roster, icfg, rec, log)
	}

	switch mode {
	case "matchmaking":
		lcfg := lobby.DefaultConfig()
		lcfg.Tick = cfg.Tick
		lcfg.MaxPlayers = cfg.MaxPlayers
		lcfg.FillWait = cfg.FillWait
		lcfg.IdleWait = cfg.IdleWait
		h.Create("matchmaking", lobby.Session(lcfg, h, game, log))
	case "instance":
		// the process lives as long as its one match
		match := game(users)
		h.Create("instance", func(ctx context.Context, slot int, incoming <-chan transport.Conn) {
			match(ctx, slot, incoming)
			stop()
		})
	}

	return serve(ctx, cfg, httpLn, tcpLn, h, rec, game, log)
}

// listen binds every configured address up front. tcp is nil when no TCP
// address is set. On error nothing is left open.
func listen(cfg config.Config) (httpLn, tcpLn net.Listener, err error) {
	httpLn, err = net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen %s: %w", cfg.HTTPAddr, err)
	}
	if cfg.TCPAddr == "" {
		return httpLn, nil, nil
	}
	tcpLn, err = net.Listen("tcp", cfg.TCPAddr)
	if err != nil {
		httpLn.Close()
		return nil, nil, fmt.Errorf("listen %s: %w", cfg.TCPAddr, err)
	}
	return httpLn, tcpLn, nil
}

func serve(ctx context.Context, cfg config.Config, httpLn, tcpLn net.Listener, h *hub.Hub, rec store.Recorder, game lobby.GameFunc, log *zap.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Hub:        h,
			Results:    rec,
			Game:       game,
			MaxPlayers: cfg.MaxPlayers,
			Log:        log,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		log.Info("listening", zap.String("http", httpLn.Addr().String()))
		if err := srv.Serve(httpLn); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		h.Shutdown()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if tcpLn != nil {
		var lim *rate.Limiter
		if cfg.AcceptRate > 0 {
			lim = rate.NewLimiter(rate.Limit(cfg.AcceptRate), max(1, int(cfg.AcceptRate)))
		}
		g.Go(func() error {
			log.Info("listening", zap.String("tcp", tcpLn.Addr().String()))
			return transport.ServeTCP(gctx, tcpLn, lim, h.Submit, log)
		})
	}

	return g.Wait()
}
