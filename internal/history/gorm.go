package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type PlayCount struct {
	Identity  string `gorm:"primaryKey;size:128"`
	Game      string `gorm:"primaryKey;size:128"`
	Count     int    `gorm:"not null;default:0"`
	UpdatedAt time.Time
}

type MatchRecord struct {
	ID             uint      `gorm:"primaryKey"`
	RoomID         string    `gorm:"index;size:64;not null"`
	Game           string    `gorm:"index;size:128;not null"`
	Reason         string    `gorm:"size:32"`
	WinnerRole     string    `gorm:"size:16"`
	WinnerIdentity string    `gorm:"size:128"`
	Players        string    `gorm:"type:text"`
	FinishedAt     time.Time `gorm:"index"`
}

type GormStore struct {
	db *gorm.DB
}

// OpenPostgres connects through the pgx-backed postgres driver and migrates
// the ledger tables.
func OpenPostgres(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewGorm(db)
}

func NewGorm(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&PlayCount{}, &MatchRecord{}); err != nil {
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) RecordPlayed(ctx context.Context, game string, players []string) error {
	if len(players) == 0 {
		return nil
	}
	return upsertPlayed(s.db.WithContext(ctx), game, players, time.Now()).Error
}

// upsertPlayed adds one play for each player, creating missing rows.
func upsertPlayed(tx *gorm.DB, game string, players []string, now time.Time) *gorm.DB {
	rows := make([]PlayCount, 0, len(players))
	for _, p := range players {
		rows = append(rows, PlayCount{Identity: p, Game: game, Count: 1, UpdatedAt: now})
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "identity"}, {Name: "game"}},
		DoUpdates: clause.Assignments(map[string]any{
			"count":      gorm.Expr("play_counts.count + 1"),
			"updated_at": now,
		}),
	}).Create(&rows)
}

func (s *GormStore) RecordResult(ctx context.Context, r Result) error {
	rec := MatchRecord{
		RoomID:         r.RoomID,
		Game:           r.Game,
		Reason:         r.Reason,
		WinnerRole:     r.WinnerRole,
		WinnerIdentity: r.WinnerIdentity,
		Players:        strings.Join(r.Players, ","),
		FinishedAt:     r.FinishedAt,
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

func (s *GormStore) Played(ctx context.Context, identity, game string) (int, error) {
	var pc PlayCount
	err := s.db.WithContext(ctx).
		Where("identity = ? AND game = ?", identity, game).
		Limit(1).Find(&pc).Error
	return pc.Count, err
}

func (s *GormStore) Results(ctx context.Context, game string, limit int) ([]Result, error) {
	var recs []MatchRecord
	if err := findResults(s.db.WithContext(ctx), game, limit, &recs).Error; err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(recs))
	for _, rec := range recs {
		r := Result{
			RoomID:         rec.RoomID,
			Game:           rec.Game,
			Reason:         rec.Reason,
			WinnerRole:     rec.WinnerRole,
			WinnerIdentity: rec.WinnerIdentity,
			FinishedAt:     rec.FinishedAt,
		}
		if rec.Players != "" {
			r.Players = strings.Split(rec.Players, ",")
		}
		out = append(out, r)
	}
	return out, nil
}

func findResults(tx *gorm.DB, game string, limit int, dest *[]MatchRecord) *gorm.DB {
	q := tx.Order("finished_at DESC, id DESC")
	if game != "" {
		q = q.Where("game = ?", game)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	return q.Find(dest)
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
