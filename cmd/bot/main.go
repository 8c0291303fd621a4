package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/tetris-backend/internal/client"
	"github.com/DoyleJ11/tetris-backend/internal/transport"
)

func main() {
	base := flag.String("addr", "ws://127.0.0.1:8080", "server base url")
	lobbySlot := flag.Int("lobby", 0, "matchmaking slot")
	bots := flag.Int("n", 2, "number of bots")
	pace := flag.Duration("pace", 150*time.Millisecond, "time between moves")
	flag.Parse()

	log, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	for range *bots {
		b := &bot{
			name: uuid.NewString()[:8],
			base: strings.TrimSuffix(*base, "/"),
			pace: *pace,
		}
		b.log = log.With(zap.String("bot", b.name))
		g.Go(func() error { return b.run(gctx, *lobbySlot) })
	}
	if err := g.Wait(); err != nil {
		log.Fatal("bot failed", zap.Error(err))
	}
}

type bot struct {
	name string
	base string
	pace time.Duration
	log  *zap.Logger
}

func (b *bot) dial(ctx context.Context, address string) (transport.Conn, error) {
	c, err := transport.DialWS(ctx, b.base+"/instance/"+address)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (b *bot) run(ctx context.Context, lobbySlot int) error {
	lobby, err := b.dial(ctx, fmt.Sprint(lobbySlot))
	if err != nil {
		return fmt.Errorf("join matchmaking: %w", err)
	}
	j := client.NewJoin(lobby, func(address string) (transport.Conn, error) {
		return b.dial(ctx, address)
	})

	ticker := time.NewTicker(15 * time.Millisecond)
	defer ticker.Stop()

	var player *client.Player
	last := time.Now()
	phase := j.Phase()
	for {
		select {
		case <-ctx.Done():
			if g := j.Game(); g != nil {
				g.Close()
			}
			return nil
		case now := <-ticker.C:
			if p := j.Step(); p != phase {
				phase = p
				b.log.Info("phase", zap.Stringer("phase", p))
			}
			switch phase {
			case client.Failed:
				return j.Err()
			case client.Ready:
			default:
				continue
			}

			game := j.Game()
			if err := game.Update(); err != nil {
				return err
			}
			if game.Value().Done || !game.Alive() {
				b.log.Info("match over", zap.Ints("placement", game.Value().Placement()))
				game.Close()
				return nil
			}
			if player == nil {
				player = client.NewPlayer(game, j.Player())
			}
			if err := player.Tick(now); err != nil {
				return err
			}
			if now.Sub(last) >= b.pace {
				last = now
				if err := player.Act(b.choose()); err != nil {
					return err
				}
			}
		}
	}
}

// choose wanders a little and then drops.
func (b *bot) choose() client.Action {
	switch rand.IntN(6) {
	case 0:
		return client.MoveLeft
	case 1:
		return client.MoveRight
	case 2:
		return client.RotateRight
	default:
		return client.HardDrop
	}
}
