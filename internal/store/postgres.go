package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision;
// addresses are stored as checksummed hex.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) GetSettings(ctx context.Context) (*model.Settings, error) {
	var st model.Settings
	var owner, treasury string
	var count int64

	err := s.pool.QueryRow(ctx,
		`SELECT owner, treasury, fee_bps, referral_bps, paused, market_count
		 FROM settings WHERE id = 1`).
		Scan(&owner, &treasury, &st.FeeBps, &st.ReferralBps, &st.Paused, &count)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}

	st.Owner = common.HexToAddress(owner)
	st.Treasury = common.HexToAddress(treasury)
	st.MarketCount = uint64(count)
	return &st, nil
}

func (s *PostgresStore) SaveSettings(ctx context.Context, st model.Settings) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO settings (id, owner, treasury, fee_bps, referral_bps, paused)
		 VALUES (1, $1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE
		 SET owner = EXCLUDED.owner, treasury = EXCLUDED.treasury,
		     fee_bps = EXCLUDED.fee_bps, referral_bps = EXCLUDED.referral_bps,
		     paused = EXCLUDED.paused`,
		st.Owner.Hex(), st.Treasury.Hex(), st.FeeBps, st.ReferralBps, st.Paused,
	)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateMarket(ctx context.Context, cfg model.MarketConfig) (*model.Market, error) {
	var m *model.Market
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var id int64
		err := tx.QueryRow(ctx,
			`UPDATE settings SET market_count = market_count + 1 WHERE id = 1 RETURNING market_count`).
			Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("create market: settings %w", ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("allocate market id: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO markets (id, question, metadata_uri, end_time, resolution_time,
			                      target_value, oracle_feed, resolve_below, asset, min_bet,
			                      creator, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, $8, $9, $10::NUMERIC, $11, $12)`,
			id, cfg.Question, cfg.MetadataURI, cfg.EndTime, cfg.ResolutionTime,
			cfg.TargetValue.String(), cfg.OracleFeed.Hex(), cfg.ResolveBelow, cfg.Asset.Hex(),
			cfg.MinBet.String(), cfg.Creator.Hex(), cfg.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert market %d: %w", id, err)
		}
		m = &model.Market{ID: uint64(id), Config: cfg}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

const marketSelectCols = `id, question, metadata_uri, end_time, resolution_time,
	target_value::TEXT, oracle_feed, resolve_below, asset, min_bet::TEXT,
	creator, created_at, resolved, cancelled, outcome, resolution_mode,
	total_pool::TEXT, total_yes::TEXT, total_no::TEXT, winning_pool::TEXT,
	house_take::TEXT, oracle_answer::TEXT, resolved_at, swept`

func scanMarket(row pgx.Row) (*model.Market, error) {
	var m model.Market
	var id int64
	var outcome int16
	var mode string
	var feed, asset, creator string
	var target, minBet, pool, yes, no, winning, house, answer string
	var resolvedAt *time.Time

	err := row.Scan(&id, &m.Config.Question, &m.Config.MetadataURI,
		&m.Config.EndTime, &m.Config.ResolutionTime,
		&target, &feed, &m.Config.ResolveBelow, &asset, &minBet,
		&creator, &m.Config.CreatedAt,
		&m.Status.Resolved, &m.Status.Cancelled, &outcome, &mode,
		&pool, &yes, &no, &winning, &house, &answer, &resolvedAt, &m.Status.Swept)
	if err != nil {
		return nil, err
	}

	m.ID = uint64(id)
	m.Config.OracleFeed = common.HexToAddress(feed)
	m.Config.Asset = common.HexToAddress(asset)
	m.Config.Creator = common.HexToAddress(creator)
	m.Config.TargetValue, _ = decimal.NewFromString(target)
	m.Config.MinBet, _ = decimal.NewFromString(minBet)

	m.Status.Outcome = model.Outcome(outcome)
	m.Status.Mode = model.ResolutionMode(mode)
	m.Status.TotalPool, _ = decimal.NewFromString(pool)
	m.Status.TotalYes, _ = decimal.NewFromString(yes)
	m.Status.TotalNo, _ = decimal.NewFromString(no)
	m.Status.WinningPool, _ = decimal.NewFromString(winning)
	m.Status.HouseTake, _ = decimal.NewFromString(house)
	m.Status.OracleAnswer, _ = decimal.NewFromString(answer)
	m.Status.ResolvedAt = resolvedAt
	return &m, nil
}

func (s *PostgresStore) GetMarket(ctx context.Context, id uint64) (*model.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx,
		`SELECT `+marketSelectCols+` FROM markets WHERE id = $1`, int64(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("market %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get market %d: %w", id, err)
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+marketSelectCols+` FROM markets ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id uint64, status model.MarketStatus) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		return updateStatus(ctx, tx, id, status)
	})
}

func updateStatus(ctx context.Context, tx pgx.Tx, id uint64, st model.MarketStatus) error {
	tag, err := tx.Exec(ctx,
		`UPDATE markets
		 SET resolved = $2, cancelled = $3, outcome = $4, resolution_mode = $5,
		     total_pool = $6::NUMERIC, total_yes = $7::NUMERIC, total_no = $8::NUMERIC,
		     winning_pool = $9::NUMERIC, house_take = $10::NUMERIC, oracle_answer = $11::NUMERIC,
		     resolved_at = $12, swept = $13
		 WHERE id = $1`,
		int64(id), st.Resolved, st.Cancelled, int16(st.Outcome), string(st.Mode),
		st.TotalPool.String(), st.TotalYes.String(), st.TotalNo.String(),
		st.WinningPool.String(), st.HouseTake.String(), st.OracleAnswer.String(),
		st.ResolvedAt, st.Swept,
	)
	if err != nil {
		return fmt.Errorf("update market %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("market %d: %w", id, ErrNotFound)
	}
	return nil
}

const betSelectCols = `market_id, user_addr, yes_amount::TEXT, no_amount::TEXT, referrer, claimed`

func scanBet(row pgx.Row) (*model.BetInfo, error) {
	var b model.BetInfo
	var marketID int64
	var user, referrer, yes, no string

	if err := row.Scan(&marketID, &user, &yes, &no, &referrer, &b.Claimed); err != nil {
		return nil, err
	}
	b.MarketID = uint64(marketID)
	b.User = common.HexToAddress(user)
	b.Referrer = common.HexToAddress(referrer)
	b.YesAmount, _ = decimal.NewFromString(yes)
	b.NoAmount, _ = decimal.NewFromString(no)
	return &b, nil
}

func (s *PostgresStore) GetBet(ctx context.Context, marketID uint64, user common.Address) (*model.BetInfo, error) {
	b, err := scanBet(s.pool.QueryRow(ctx,
		`SELECT `+betSelectCols+` FROM bets WHERE market_id = $1 AND user_addr = $2`,
		int64(marketID), user.Hex()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("bet %d/%s: %w", marketID, user.Hex(), ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get bet %d/%s: %w", marketID, user.Hex(), err)
	}
	return b, nil
}

func (s *PostgresStore) ListBets(ctx context.Context, marketID uint64) ([]model.BetInfo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+betSelectCols+` FROM bets WHERE market_id = $1 ORDER BY user_addr`, int64(marketID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBets(rows)
}

func (s *PostgresStore) ListUserBets(ctx context.Context, user common.Address) ([]model.BetInfo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+betSelectCols+` FROM bets WHERE user_addr = $1 ORDER BY market_id`, user.Hex())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBets(rows)
}

func scanBets(rows pgx.Rows) ([]model.BetInfo, error) {
	var bets []model.BetInfo
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		bets = append(bets, *b)
	}
	return bets, rows.Err()
}

func (s *PostgresStore) PutBet(ctx context.Context, status model.MarketStatus, b model.BetInfo) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if err := updateStatus(ctx, tx, b.MarketID, status); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO bets (market_id, user_addr, yes_amount, no_amount, referrer, claimed)
			 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5, $6)
			 ON CONFLICT (market_id, user_addr) DO UPDATE
			 SET yes_amount = EXCLUDED.yes_amount, no_amount = EXCLUDED.no_amount,
			     referrer = EXCLUDED.referrer, claimed = EXCLUDED.claimed`,
			int64(b.MarketID), b.User.Hex(), b.YesAmount.String(), b.NoAmount.String(),
			b.Referrer.Hex(), b.Claimed,
		)
		if err != nil {
			return fmt.Errorf("put bet %d/%s: %w", b.MarketID, b.User.Hex(), err)
		}
		return nil
	})
}

func (s *PostgresStore) SetClaimed(ctx context.Context, marketID uint64, user common.Address, claimed bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE bets SET claimed = $3
		 WHERE market_id = $1 AND user_addr = $2 AND claimed <> $3`,
		int64(marketID), user.Hex(), claimed)
	if err != nil {
		return fmt.Errorf("set claimed %d/%s: %w", marketID, user.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetBet(ctx, marketID, user); err != nil {
			return err
		}
		return ErrClaimConflict
	}
	return nil
}

// withTx executes fn within a transaction. If fn returns an error, the
// transaction is rolled back; otherwise it is committed.
func (s *PostgresStore) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
