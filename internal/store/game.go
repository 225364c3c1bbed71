package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pavelanni/proctor/internal/model"
)

const gameColumns = `id, title, type, cards, grid_size, owner_id, plays, best_time, best_score, created_at`

func scanGame(row scanner) (model.Game, error) {
	var (
		g                   model.Game
		cards               string
		bestTime, bestScore sql.NullInt64
	)
	if err := row.Scan(&g.ID, &g.Title, &g.Type, &cards, &g.GridSize, &g.OwnerID,
		&g.Stats.Plays, &bestTime, &bestScore, &g.CreatedAt); err != nil {
		return g, err
	}
	if err := json.Unmarshal([]byte(cards), &g.Cards); err != nil {
		return g, fmt.Errorf("decode cards of game %s: %w", g.ID, err)
	}
	g.Stats.BestTime = intPtr(bestTime)
	g.Stats.BestScore = intPtr(bestScore)
	return g, nil
}

// UpsertGame inserts a game or replaces its authored fields. Play
// statistics of an existing game are kept.
func (s *Store) UpsertGame(ctx context.Context, g model.Game) error {
	cards, err := encodeJSON(g.Cards)
	if err != nil {
		return fmt.Errorf("encode cards: %w", err)
	}
	created := g.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO games (id, title, type, cards, grid_size, owner_id, plays, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 0, $7)
		 ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			type = excluded.type,
			cards = excluded.cards,
			grid_size = excluded.grid_size,
			owner_id = excluded.owner_id`,
		g.ID, g.Title, g.Type, cards, g.GridSize, g.OwnerID, created.UTC(),
	)
	return err
}

// GetGame returns a game by ID or model.ErrNotFound.
func (s *Store) GetGame(ctx context.Context, id string) (model.Game, error) {
	g, err := scanGame(s.db.QueryRowContext(ctx, `SELECT `+gameColumns+` FROM games WHERE id = $1`, id))
	if notFound(err) {
		return g, fmt.Errorf("game %s: %w", id, model.ErrNotFound)
	}
	return g, err
}

// ListGames returns all games.
func (s *Store) ListGames(ctx context.Context) ([]model.Game, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+gameColumns+` FROM games ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var games []model.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		games = append(games, g)
	}
	return games, rows.Err()
}

// RecordPlay merges one play result into the stored statistics and
// returns the new statistics.
func (s *Store) RecordPlay(ctx context.Context, gameID string, r model.PlayResult) (model.GameStats, error) {
	var stats model.GameStats
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var bestTime, bestScore sql.NullInt64
		err := tx.QueryRowContext(ctx,
			`SELECT plays, best_time, best_score FROM games WHERE id = $1`+s.forUpdate(), gameID,
		).Scan(&stats.Plays, &bestTime, &bestScore)
		if notFound(err) {
			return fmt.Errorf("game %s: %w", gameID, model.ErrNotFound)
		}
		if err != nil {
			return err
		}
		stats.BestTime = intPtr(bestTime)
		stats.BestScore = intPtr(bestScore)
		stats = stats.Merge(r)
		_, err = tx.ExecContext(ctx,
			`UPDATE games SET plays = $1, best_time = $2, best_score = $3 WHERE id = $4`,
			stats.Plays, *stats.BestTime, *stats.BestScore, gameID,
		)
		return err
	})
	return stats, err
}
