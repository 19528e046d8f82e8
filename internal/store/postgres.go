package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"blueballs/internal/game"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const accountColumns = `
	user_id, membership_tier, lives, max_lives, lives_per_hour, last_life_regen,
	lifetime_points, last_30_days_points, lifetime_level, current_rank,
	high_score_easy, high_score_medium, high_score_hard, version
`

// Postgres implements game.Store and game.Directory on top of pgx.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Load(ctx context.Context, accountID string) (game.Account, error) {
	a, err := scanAccount(p.db.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM game.progression
		WHERE user_id = $1
	`, accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return game.Account{}, fmt.Errorf("%w: %s", game.ErrAccountNotFound, accountID)
	}
	return a, err
}

func (p *Postgres) CompareAndSwap(ctx context.Context, prevVersion int64, next game.Account, run *game.Run) (game.Account, error) {
	saved, err := p.compareAndSwap(ctx, prevVersion, next, run)
	if isSerializationError(err) {
		return game.Account{}, game.ErrConflict
	}
	return saved, err
}

func (p *Postgres) compareAndSwap(ctx context.Context, prevVersion int64, next game.Account, run *game.Run) (game.Account, error) {
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return game.Account{}, err
	}
	defer tx.Rollback(ctx)

	saved, err := scanAccount(tx.QueryRow(ctx, `
		UPDATE game.progression
		SET membership_tier = $3,
		    lives = $4,
		    max_lives = $5,
		    lives_per_hour = $6,
		    last_life_regen = $7,
		    lifetime_points = $8,
		    last_30_days_points = $9,
		    lifetime_level = $10,
		    current_rank = $11,
		    high_score_easy = $12,
		    high_score_medium = $13,
		    high_score_hard = $14,
		    version = version + 1,
		    updated_at = now()
		WHERE user_id = $1 AND version = $2
		RETURNING `+accountColumns,
		next.AccountID, prevVersion,
		string(next.Tier), next.Lives, next.MaxLives, next.LivesPerHour, next.LastRegenAt,
		next.LifetimePoints, next.Last30DaysPoints, next.LifetimeLevel, string(next.CurrentRank),
		next.HighScores.Easy, next.HighScores.Medium, next.HighScores.Hard,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return game.Account{}, game.ErrConflict
	}
	if err != nil {
		return game.Account{}, err
	}

	if run != nil {
		cmd, err := tx.Exec(ctx, `
			INSERT INTO game.game_scores (id, user_id, score, difficulty, points_earned, idempotency_key, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (user_id, idempotency_key) DO NOTHING
		`, run.ID, run.AccountID, run.Score, string(run.Difficulty), run.PointsEarned, nullString(run.IdempotencyKey), run.CreatedAt)
		if err != nil {
			return game.Account{}, err
		}
		if cmd.RowsAffected() == 0 {
			return game.Account{}, game.ErrDuplicateSubmission
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return game.Account{}, err
	}
	return saved, nil
}

func (p *Postgres) CreateAccount(ctx context.Context, pr game.Profile, a game.Account) (bool, error) {
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	cmd, err := tx.Exec(ctx, `
		INSERT INTO users.profiles (user_id, email, username, invite_code, country_code, region)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO NOTHING
	`, pr.AccountID, pr.Email, pr.Username, pr.InviteCode, pr.CountryCode, string(pr.Region))
	if err != nil {
		return false, err
	}
	if cmd.RowsAffected() == 0 {
		return false, nil
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO game.progression (user_id, membership_tier, lives, max_lives, lives_per_hour, last_life_regen, lifetime_level, current_rank)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO NOTHING
	`, a.AccountID, string(a.Tier), a.Lives, a.MaxLives, a.LivesPerHour, a.LastRegenAt, a.LifetimeLevel, string(a.CurrentRank))
	if err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

func (p *Postgres) GetProfile(ctx context.Context, accountID string) (game.Profile, error) {
	var out game.Profile
	var region string
	err := p.db.QueryRow(ctx, `
		SELECT user_id, email, username, invite_code, country_code, region, created_at
		FROM users.profiles
		WHERE user_id = $1
	`, accountID).Scan(&out.AccountID, &out.Email, &out.Username, &out.InviteCode, &out.CountryCode, &region, &out.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, fmt.Errorf("%w: %s", game.ErrAccountNotFound, accountID)
	}
	out.Region = game.Region(region)
	return out, err
}

func (p *Postgres) RecentRuns(ctx context.Context, accountID string, limit int) ([]game.Run, error) {
	rows, err := p.db.Query(ctx, `
		SELECT id::text, user_id, score, difficulty, points_earned, created_at
		FROM game.game_scores
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []game.Run
	for rows.Next() {
		var r game.Run
		var difficulty string
		if err := rows.Scan(&r.ID, &r.AccountID, &r.Score, &difficulty, &r.PointsEarned, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Difficulty = game.Difficulty(difficulty)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) Leaderboard(ctx context.Context, q game.LeaderboardQuery) ([]game.LeaderboardRow, error) {
	column, err := boardColumn(q.Board)
	if err != nil {
		return nil, err
	}
	rows, err := p.db.Query(ctx, `
		WITH social AS (
			SELECT $1::text AS user_id
			UNION
			SELECT followee_id::text
			FROM game.friend_follows
			WHERE follower_id::text = $1::text
		)
		SELECT pr.username, pr.invite_code, pr.region, g.current_rank, g.lifetime_level, `+column+` AS value
		FROM game.progression g
		JOIN users.profiles pr ON pr.user_id = g.user_id
		WHERE ($1::text = '' OR g.user_id::text IN (SELECT user_id FROM social))
		  AND ($2::text = '' OR pr.region = $2)
		ORDER BY value DESC, pr.username
		LIMIT $3
	`, q.FriendsOf, string(q.Region), q.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []game.LeaderboardRow
	var position int64 = 1
	for rows.Next() {
		var r game.LeaderboardRow
		var region, rank string
		if err := rows.Scan(&r.Username, &r.InviteCode, &region, &rank, &r.LifetimeLevel, &r.Value); err != nil {
			return nil, err
		}
		r.Region = game.Region(region)
		r.CurrentRank = game.Rank(rank)
		r.Position = position
		position++
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) AddFriend(ctx context.Context, accountID, inviteCode string) error {
	followee, err := p.accountByInviteCode(ctx, inviteCode)
	if err != nil {
		return err
	}
	if followee == accountID {
		return fmt.Errorf("%w: cannot follow yourself", game.ErrInvalidInput)
	}
	_, err = p.db.Exec(ctx, `
		INSERT INTO game.friend_follows (follower_id, followee_id)
		VALUES ($1, $2)
		ON CONFLICT (follower_id, followee_id) DO NOTHING
	`, accountID, followee)
	return err
}

func (p *Postgres) RemoveFriend(ctx context.Context, accountID, inviteCode string) error {
	followee, err := p.accountByInviteCode(ctx, inviteCode)
	if err != nil {
		return err
	}
	_, err = p.db.Exec(ctx, `
		DELETE FROM game.friend_follows
		WHERE follower_id = $1 AND followee_id = $2
	`, accountID, followee)
	return err
}

func (p *Postgres) accountByInviteCode(ctx context.Context, inviteCode string) (string, error) {
	inviteCode = strings.ToUpper(strings.TrimSpace(inviteCode))
	var id string
	err := p.db.QueryRow(ctx, `SELECT user_id::text FROM users.profiles WHERE invite_code = $1`, inviteCode).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: invite code %s", game.ErrAccountNotFound, inviteCode)
	}
	return id, err
}

func scanAccount(row pgx.Row) (game.Account, error) {
	var a game.Account
	var tier, rank string
	err := row.Scan(
		&a.AccountID, &tier, &a.Lives, &a.MaxLives, &a.LivesPerHour, &a.LastRegenAt,
		&a.LifetimePoints, &a.Last30DaysPoints, &a.LifetimeLevel, &rank,
		&a.HighScores.Easy, &a.HighScores.Medium, &a.HighScores.Hard, &a.Version,
	)
	if err != nil {
		return game.Account{}, err
	}
	a.Tier = game.Tier(tier)
	a.CurrentRank = game.Rank(rank)
	return a, nil
}

func boardColumn(b game.Board) (string, error) {
	switch b {
	case game.BoardLifetime, "":
		return "g.lifetime_points", nil
	case game.BoardLast30Days:
		return "g.last_30_days_points", nil
	case game.BoardEasy:
		return "g.high_score_easy", nil
	case game.BoardMedium:
		return "g.high_score_medium", nil
	case game.BoardHard:
		return "g.high_score_hard", nil
	default:
		return "", fmt.Errorf("%w: unknown board %q", game.ErrInvalidInput, b)
	}
}

func nullString(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

// 40001 serialization_failure, 40P01 deadlock_detected.
func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}
