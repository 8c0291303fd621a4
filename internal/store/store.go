package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/DoyleJ11/tetris-backend/internal/engine"
)

var ErrNoDSN = errors.New("no database configured")

// MatchResult is what is kept of a match once it is over. Live state is
// never written anywhere.
type MatchResult struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Slot       int       `json:"slot"`
	Players    int       `json:"players"`
	Winner     string    `json:"winner"`
	Placement  []string  `gorm:"serializer:json" json:"placement"` // winner first
	Lines      []int     `gorm:"serializer:json" json:"lines"`     // per roster index
	Completed  bool      `json:"completed"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `gorm:"index" json:"ended_at"`
	DurationMS int64     `json:"duration_ms"`
}

// Recorder stores finished matches.
type Recorder interface {
	Record(ctx context.Context, r *MatchResult) error
	Recent(ctx context.Context, limit int) ([]MatchResult, error)
}

// ResultFrom summarizes a match. roster[i] is the key of games[i].
// completed is false for a match everyone walked away from.
func ResultFrom(slot int, roster []string, s *engine.InstanceState, startedAt, endedAt time.Time) *MatchResult {
	r := &MatchResult{
		Slot:      slot,
		Players:   len(roster),
		Completed: s.Done,
		StartedAt: startedAt,
		EndedAt:   endedAt,
		Lines:     make([]int, len(s.Games)),
	}
	if !startedAt.IsZero() {
		r.DurationMS = endedAt.Sub(startedAt).Milliseconds()
	}
	for i, g := range s.Games {
		r.Lines[i] = g.Lines
	}
	for _, i := range s.Placement() {
		if i >= 0 && i < len(roster) {
			r.Placement = append(r.Placement, roster[i])
		}
	}
	if s.Done && len(r.Placement) > 0 {
		r.Winner = r.Placement[0]
	}
	return r
}

// DB records results in postgres.
type DB struct {
	db *gorm.DB
}

func Open(dsn string) (*DB, error) {
	if dsn == "" {
		return nil, ErrNoDSN
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&MatchResult{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &DB{db: db}, nil
}

func (d *DB) Record(ctx context.Context, r *MatchResult) error {
	return d.db.WithContext(ctx).Create(r).Error
}

func (d *DB) Recent(ctx context.Context, limit int) ([]MatchResult, error) {
	var out []MatchResult
	err := d.db.WithContext(ctx).Order("ended_at desc").Limit(limit).Find(&out).Error
	return out, err
}

func (d *DB) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Memory keeps the last few results in process, for when there is no
// database.
type Memory struct {
	mu      sync.Mutex
	keep    int
	nextID  uint
	results []MatchResult
}

func NewMemory(keep int) *Memory {
	return &Memory{keep: keep}
}

func (m *Memory) Record(_ context.Context, r *MatchResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	r.ID = m.nextID
	m.results = append(m.results, *r)
	if over := len(m.results) - m.keep; over > 0 {
		m.results = append(m.results[:0], m.results[over:]...)
	}
	return nil
}

// Recent returns newest first.
func (m *Memory) Recent(_ context.Context, limit int) ([]MatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]MatchResult, 0, min(limit, len(m.results)))
	for i := len(m.results) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.results[i])
	}
	return out, nil
}
