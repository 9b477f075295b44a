package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/david/charity-dao/internal/models"
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Users

const userCols = `id, wallet_address, username, email, avatar, is_kyc, status, created_at, updated_at`

func scanUser(scan func(dest ...interface{}) error) (models.User, error) {
	var u models.User
	err := scan(&u.ID, &u.WalletAddress, &u.Username, &u.Email, &u.Avatar, &u.IsKYC, &u.Status, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (s *Store) CreateUser(ctx context.Context, u models.User) (models.User, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (wallet_address, username, email, avatar)
		VALUES ($1, $2, $3, $4)
		RETURNING `+userCols,
		u.WalletAddress, u.Username, u.Email, u.Avatar)
	created, err := scanUser(row.Scan)
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, ErrUserExists
		}
		return models.User{}, fmt.Errorf("error creating user: %w", err)
	}
	return created, nil
}

func (s *Store) GetUserByWallet(ctx context.Context, wallet string) (models.User, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+userCols+" FROM users WHERE lower(wallet_address) = lower($1)", wallet)
	u, err := scanUser(row.Scan)
	if err != nil {
		return u, notFound(err, "user")
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (models.User, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+userCols+" FROM users WHERE id = $1", id)
	u, err := scanUser(row.Scan)
	if err != nil {
		return u, notFound(err, "user")
	}
	return u, nil
}

// UserUpdate holds profile fields to change; nil fields are left as is.
type UserUpdate struct {
	Username *string `json:"username"`
	Email    *string `json:"email"`
	Avatar   *string `json:"avatar"`
}

func (s *Store) UpdateUser(ctx context.Context, id uuid.UUID, upd UserUpdate) (models.User, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE users SET
			username = COALESCE($2, username),
			email = COALESCE($3, email),
			avatar = COALESCE($4, avatar),
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+userCols,
		id, upd.Username, upd.Email, upd.Avatar)
	u, err := scanUser(row.Scan)
	if err != nil {
		return u, notFound(err, "user")
	}
	return u, nil
}

func (s *Store) SetKYC(ctx context.Context, id uuid.UUID, verified bool) (models.User, error) {
	row := s.pool.QueryRow(ctx,
		"UPDATE users SET is_kyc = $2, updated_at = NOW() WHERE id = $1 RETURNING "+userCols, id, verified)
	u, err := scanUser(row.Scan)
	if err != nil {
		return u, notFound(err, "user")
	}
	return u, nil
}

func (s *Store) SetUserStatus(ctx context.Context, id uuid.UUID, status string) (models.User, error) {
	if status != models.UserActive && status != models.UserBlocked {
		return models.User{}, fmt.Errorf("%w: user status %q", ErrInvalid, status)
	}
	row := s.pool.QueryRow(ctx,
		"UPDATE users SET status = $2, updated_at = NOW() WHERE id = $1 RETURNING "+userCols, id, status)
	u, err := scanUser(row.Scan)
	if err != nil {
		return u, notFound(err, "user")
	}
	return u, nil
}

// Donations

const donationCols = `id, donor_wallet, project_id, amount, tx_hash, donate_type, created_at`

func scanDonation(scan func(dest ...interface{}) error) (models.Donation, error) {
	var d models.Donation
	var amount pgtype.Numeric
	if err := scan(&d.ID, &d.DonorWallet, &d.ProjectID, &amount, &d.TxHash, &d.DonateType, &d.CreatedAt); err != nil {
		return d, err
	}
	d.Amount = fromNumeric(amount)
	return d, nil
}

func (s *Store) CreateDonation(ctx context.Context, d models.Donation) (models.Donation, error) {
	if d.DonateType != models.DonateFund && d.DonateType != models.DonateProject {
		return models.Donation{}, fmt.Errorf("%w: donate type %q", ErrInvalid, d.DonateType)
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO donations (donor_wallet, project_id, amount, tx_hash, donate_type)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+donationCols,
		d.DonorWallet, d.ProjectID, toNumeric(d.Amount), d.TxHash, d.DonateType)
	created, err := scanDonation(row.Scan)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Donation{}, fmt.Errorf("donation for tx %s %w", d.TxHash, ErrDuplicate)
		}
		return models.Donation{}, fmt.Errorf("error creating donation: %w", err)
	}
	return created, nil
}

func (s *Store) listDonations(ctx context.Context, where string, args ...interface{}) ([]models.Donation, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+donationCols+" FROM donations "+where+" ORDER BY created_at DESC", args...)
	if err != nil {
		return nil, fmt.Errorf("error listing donations: %w", err)
	}
	defer rows.Close()

	donations := []models.Donation{}
	for rows.Next() {
		d, err := scanDonation(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("error scanning donation: %w", err)
		}
		donations = append(donations, d)
	}
	return donations, rows.Err()
}

func (s *Store) ListDonations(ctx context.Context) ([]models.Donation, error) {
	return s.listDonations(ctx, "")
}

func (s *Store) ListDonationsByDonor(ctx context.Context, wallet string) ([]models.Donation, error) {
	return s.listDonations(ctx, "WHERE lower(donor_wallet) = lower($1)", wallet)
}

func (s *Store) ListDonationsByProject(ctx context.Context, projectID string) ([]models.Donation, error) {
	return s.listDonations(ctx, "WHERE project_id = $1", projectID)
}

// Transactions

const transactionCols = `id, tx_hash, from_address, to_address, amount, event_type, project_id, block_number, timestamp`

func scanTransaction(scan func(dest ...interface{}) error) (models.Transaction, error) {
	var t models.Transaction
	var amount pgtype.Numeric
	var block *int64
	if err := scan(&t.ID, &t.TxHash, &t.FromAddress, &t.ToAddress, &amount, &t.EventType, &t.ProjectID, &block, &t.Timestamp); err != nil {
		return t, err
	}
	t.Amount = fromNumeric(amount)
	if block != nil {
		b := uint64(*block)
		t.BlockNumber = &b
	}
	return t, nil
}

func (s *Store) CreateTransaction(ctx context.Context, t models.Transaction) (models.Transaction, error) {
	var block *int64
	if t.BlockNumber != nil {
		b := int64(*t.BlockNumber)
		block = &b
	}
	ts := t.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO transactions (tx_hash, from_address, to_address, amount, event_type, project_id, block_number, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+transactionCols,
		t.TxHash, t.FromAddress, t.ToAddress, toNumeric(t.Amount), t.EventType, t.ProjectID, block, ts)
	created, err := scanTransaction(row.Scan)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Transaction{}, fmt.Errorf("transaction %s %w", t.TxHash, ErrDuplicate)
		}
		return models.Transaction{}, fmt.Errorf("error creating transaction: %w", err)
	}
	return created, nil
}

func (s *Store) listTransactions(ctx context.Context, where string, args ...interface{}) ([]models.Transaction, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+transactionCols+" FROM transactions "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing transactions: %w", err)
	}
	defer rows.Close()

	txs := []models.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("error scanning transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func (s *Store) ListTransactions(ctx context.Context, limit int) ([]models.Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.listTransactions(ctx, "ORDER BY timestamp DESC LIMIT $1", limit)
}

func (s *Store) ListTransactionsByAddress(ctx context.Context, address string) ([]models.Transaction, error) {
	return s.listTransactions(ctx,
		"WHERE lower(from_address) = lower($1) OR lower(to_address) = lower($1) ORDER BY timestamp DESC", address)
}

// AI analyses

func (s *Store) SaveAnalysis(ctx context.Context, a models.Analysis) (models.Analysis, error) {
	reasons := a.KeyReasons
	if reasons == nil {
		reasons = []string{}
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO ai_analyses (project_id, recommendation, fraud_score, risk_level, minimum_quorum, quorum_percent, key_reasons)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (project_id) DO UPDATE SET
			recommendation = EXCLUDED.recommendation,
			fraud_score = EXCLUDED.fraud_score,
			risk_level = EXCLUDED.risk_level,
			minimum_quorum = EXCLUDED.minimum_quorum,
			quorum_percent = EXCLUDED.quorum_percent,
			key_reasons = EXCLUDED.key_reasons,
			created_at = NOW()
		RETURNING created_at`,
		a.ProjectID, a.Recommendation, a.FraudScore, a.RiskLevel, a.MinimumQuorum, a.QuorumPercent, reasons)
	if err := row.Scan(&a.CreatedAt); err != nil {
		return models.Analysis{}, fmt.Errorf("error saving analysis: %w", err)
	}
	a.KeyReasons = reasons
	return a, nil
}

func (s *Store) GetAnalysis(ctx context.Context, projectID string) (models.Analysis, error) {
	var a models.Analysis
	err := s.pool.QueryRow(ctx, `
		SELECT project_id, recommendation, fraud_score, risk_level, minimum_quorum, quorum_percent, key_reasons, created_at
		FROM ai_analyses WHERE project_id = $1`, projectID).
		Scan(&a.ProjectID, &a.Recommendation, &a.FraudScore, &a.RiskLevel, &a.MinimumQuorum, &a.QuorumPercent, &a.KeyReasons, &a.CreatedAt)
	if err != nil {
		return a, notFound(err, "analysis")
	}
	return a, nil
}

// Sync runs

func (s *Store) StartSyncRun(ctx context.Context) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx,
		"INSERT INTO sync_runs (status) VALUES ($1) RETURNING run_id", models.SyncRunning).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("error creating sync run: %w", err)
	}
	return id, nil
}

func (s *Store) FinishSyncRun(ctx context.Context, run models.SyncRun) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_runs SET
			status = $2, requests = $3, projects = $4, activities = $5, error = $6, completed_at = NOW()
		WHERE run_id = $1`,
		run.RunID, run.Status, run.Requests, run.Projects, run.Activities, run.Error)
	if err != nil {
		return fmt.Errorf("error finishing sync run %s: %w", run.RunID, err)
	}
	return nil
}

func (s *Store) ListSyncRuns(ctx context.Context, limit int) ([]models.SyncRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, status, requests, projects, activities, error, started_at, completed_at
		FROM sync_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("error listing sync runs: %w", err)
	}
	defer rows.Close()

	runs := []models.SyncRun{}
	for rows.Next() {
		var r models.SyncRun
		if err := rows.Scan(&r.RunID, &r.Status, &r.Requests, &r.Projects, &r.Activities, &r.Error, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, fmt.Errorf("error scanning sync run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
