package lobby

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/tetris-backend/internal/engine"
	"github.com/DoyleJ11/tetris-backend/internal/hub"
	"github.com/DoyleJ11/tetris-backend/internal/mirror"
	"github.com/DoyleJ11/tetris-backend/internal/server"
	"github.com/DoyleJ11/tetris-backend/internal/transport"
)

type Config struct {
	MaxPlayers int
	FillWait   int // seconds left after every new arrival
	IdleWait   int // seconds left when nobody is queued
	Tick       time.Duration
	MatchTick  time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxPlayers: 9,
		FillWait:   10,
		IdleWait:   91,
		Tick:       15 * time.Millisecond,
		MatchTick:  time.Second,
	}
}

// Creator starts sessions; *hub.Hub is one.
type Creator interface {
	Create(name string, fn hub.SessionFunc) int
}

// GameFunc builds the session that plays a match between roster.
type GameFunc func(roster []string) hub.SessionFunc

type user = server.User[*engine.MatchmakingState]

// Lobby queues connections and sends them to a new game once enough players
// have shown up or the wait runs out. Each connection has a private tree, so
// only the lobby decides who is matched; keys live here, not in the trees.
type Lobby struct {
	cfg     Config
	creator Creator
	game    GameFunc
	server  *server.Private[*engine.MatchmakingState]
	log     *zap.Logger

	keys    map[*user]string
	wait    int
	last    time.Time
	matches int
}

func New(cfg Config, creator Creator, game GameFunc, incoming <-chan transport.Conn, log *zap.Logger) *Lobby {
	l := &Lobby{
		cfg:     cfg,
		creator: creator,
		game:    game,
		log:     log,
		keys:    make(map[*user]string),
		wait:    cfg.IdleWait,
	}
	l.server = server.NewPrivate(func() *engine.MatchmakingState {
		return engine.NewMatchmaking(l.wait)
	}, incoming, log)
	return l
}

// Session adapts a lobby to the hub.
func Session(cfg Config, creator Creator, game GameFunc, log *zap.Logger) hub.SessionFunc {
	return func(ctx context.Context, slot int, incoming <-chan transport.Conn) {
		New(cfg, creator, game, incoming, log.With(zap.Int("slot", slot))).Run(ctx)
	}
}

func (l *Lobby) Run(ctx context.Context) {
	l.log.Info("matchmaking started", zap.Int("max_players", l.cfg.MaxPlayers))
	ticker := time.NewTicker(l.cfg.Tick)
	defer ticker.Stop()
	defer l.server.Close()

	for {
		select {
		case <-ctx.Done():
			l.log.Info("matchmaking stopped")
			return
		case now := <-ticker.C:
			l.Step(now)
		}
	}
}

// Step serves connections and, once per MatchTick, moves the queue along.
func (l *Lobby) Step(now time.Time) {
	l.server.Update()
	if l.last.IsZero() {
		l.last = now
		return
	}
	if now.Sub(l.last) >= l.cfg.MatchTick {
		l.last = now
		l.tick()
	}
}

func (l *Lobby) tick() {
	users := l.server.Users()
	for u := range l.keys {
		if !u.Alive() {
			delete(l.keys, u)
		}
	}

	l.wait--
	for _, u := range users {
		if len(l.keys) >= l.cfg.MaxPlayers {
			break
		}
		if _, ok := l.keys[u]; ok {
			continue
		}
		key := uuid.NewString()
		l.keys[u] = key
		l.send(u, mirror.At("matched").Set(true), mirror.At("player_key").Set(key))
		l.wait = l.cfg.FillWait
	}

	switch {
	case len(l.keys) >= l.cfg.MaxPlayers && len(l.keys) >= 2:
		l.launch(users)
	case l.wait <= 0 && len(l.keys) >= 2:
		l.launch(users)
	case l.wait <= 0:
		l.log.Info("not enough players to start a match, resetting wait", zap.Int("players", len(l.keys)))
		l.wait = l.cfg.IdleWait
	}

	for _, u := range l.server.Users() {
		l.send(u, mirror.At("wait_time").Set(l.wait), mirror.At("players_found").Set(len(l.keys)))
	}
}

func (l *Lobby) launch(users []*user) {
	matched := make([]*user, 0, len(l.keys))
	roster := make([]string, 0, len(l.keys))
	for _, u := range users {
		if key, ok := l.keys[u]; ok {
			matched = append(matched, u)
			roster = append(roster, key)
		}
	}

	l.matches++
	slot := l.creator.Create("match-"+strconv.Itoa(l.matches), l.game(roster))
	address := strconv.Itoa(slot)
	l.log.Info("match created", zap.Int("game_slot", slot), zap.Int("players", len(roster)))

	for i, u := range matched {
		l.send(u,
			mirror.At("player_id").Set(i),
			mirror.At("instance_address").Set(address),
			mirror.At("done").Set(true),
		)
		u.Kick()
		delete(l.keys, u)
	}
	l.wait = l.cfg.IdleWait
}

func (l *Lobby) send(u *user, cmds ...string) {
	for _, cmd := range cmds {
		if err := u.Command(cmd); err != nil {
			l.log.Error("matchmaking command failed", zap.String("command", cmd), zap.Error(err))
			u.Kick()
			return
		}
	}
}
