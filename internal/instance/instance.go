package instance

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/tetris-backend/internal/engine"
	"github.com/DoyleJ11/tetris-backend/internal/hub"
	"github.com/DoyleJ11/tetris-backend/internal/mirror"
	"github.com/DoyleJ11/tetris-backend/internal/server"
	"github.com/DoyleJ11/tetris-backend/internal/store"
	"github.com/DoyleJ11/tetris-backend/internal/transport"
)

type Config struct {
	Rules  engine.Rules
	Tick   time.Duration
	Linger time.Duration // how long a finished match keeps serving its final state
	Now    func() time.Time
}

func DefaultConfig() Config {
	return Config{
		Rules:  engine.DefaultRules(),
		Tick:   15 * time.Millisecond,
		Linger: time.Second,
		Now:    time.Now,
	}
}

var serverUpdate = mirror.At().Call("server_update")

// Session returns the hub session for one match between roster. The result
// is handed to rec when the match ends, however it ends.
func Session(roster []string, cfg Config, rec store.Recorder, log *zap.Logger) hub.SessionFunc {
	return func(ctx context.Context, slot int, incoming <-chan transport.Conn) {
		Run(ctx, slot, roster, cfg, incoming, rec, log.With(zap.Int("slot", slot)))
	}
}

func Run(ctx context.Context, slot int, roster []string, cfg Config, incoming <-chan transport.Conn, rec store.Recorder, log *zap.Logger) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	state := engine.NewInstance(roster, cfg.Rules, rand.Uint64(), cfg.Now)
	srv := server.NewShared(state, incoming, log)
	defer srv.Close()

	log.Info("match started", zap.Int("players", len(roster)))
	ticker := time.NewTicker(cfg.Tick)
	defer ticker.Stop()

	var finishedAt time.Time
	recorded := false
	finish := func(now time.Time) {
		if !recorded {
			recorded = true
			record(rec, slot, roster, state, now, log)
		}
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("match cancelled")
			finish(cfg.Now())
			return
		case <-ticker.C:
		}

		srv.Update()
		if err := srv.Command(serverUpdate); err != nil {
			log.Error("server update failed", zap.Error(err))
			finish(cfg.Now())
			return
		}

		now := cfg.Now()
		switch {
		case state.Done:
			if finishedAt.IsZero() {
				finishedAt = now
				log.Info("match finished", zap.Ints("placement", state.Placement()))
				finish(now)
			}
			if srv.Connections() == 0 || now.Sub(finishedAt) >= cfg.Linger {
				return
			}
		case state.Started && srv.Connections() == 0:
			log.Info("match abandoned")
			finish(now)
			return
		}
	}
}

func record(rec store.Recorder, slot int, roster []string, state *engine.InstanceState, now time.Time, log *zap.Logger) {
	if rec == nil {
		return
	}
	r := store.ResultFrom(slot, roster, state, state.Context.V.StartedAt(), now)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rec.Record(ctx, r); err != nil {
		log.Error("recording match result failed", zap.Error(err))
	}
}
