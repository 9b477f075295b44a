package db

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/david/charity-dao/internal/models"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Snapshot is the full contract state captured by one sync.
type Snapshot struct {
	Requests   []models.Request
	Projects   []models.Project
	Activities []models.Activity
}

// EntityFilter narrows snapshot listings. Address matches the request
// beneficiary or project owner, case-insensitively.
type EntityFilter struct {
	Address string
}

func toNumeric(v *big.Int) pgtype.Numeric {
	if v == nil {
		v = new(big.Int)
	}
	return pgtype.Numeric{Int: new(big.Int).Set(v), Exp: 0, Valid: true}
}

func fromNumeric(n pgtype.Numeric) *big.Int {
	if !n.Valid || n.Int == nil {
		return new(big.Int)
	}
	v := new(big.Int).Set(n.Int)
	if n.Exp > 0 {
		v.Mul(v, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n.Exp)), nil))
	} else if n.Exp < 0 {
		v.Quo(v, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(-n.Exp)), nil))
	}
	return v
}

// ReplaceSnapshot swaps the stored contract snapshot for snap in a single
// transaction; readers never observe a partial sync.
func (s *Store) ReplaceSnapshot(ctx context.Context, snap Snapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("error starting snapshot tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "TRUNCATE requests, projects, activities"); err != nil {
		return fmt.Errorf("error clearing snapshot: %w", err)
	}

	batch := &pgx.Batch{}
	for _, r := range snap.Requests {
		batch.Queue(`
			INSERT INTO requests (
				id, beneficiary, amount, description, proof_hash,
				approve_count, reject_count, quorum_percent, dao_decision_made, dao_approved,
				donor_vote_deadline, donor_approve_count, donor_reject_count, paid, done, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
			r.ID, r.Beneficiary, toNumeric(r.Amount), r.Description, r.ProofHash,
			int64(r.ApproveCount), int64(r.RejectCount), int64(r.QuorumPercent), r.DAODecisionMade, r.DAOApproved,
			r.DonorVoteDeadline, int64(r.DonorApproveCount), int64(r.DonorRejectCount), r.Paid, r.Done, r.CreatedAt,
		)
	}
	for _, p := range snap.Projects {
		batch.Queue(`
			INSERT INTO projects (
				id, owner, title, description, proof_hash, target_amount, total_funded, deadline,
				approved, decision_made, closed, approve_count, reject_count, quorum_percent, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			p.ID, p.Owner, p.Title, p.Description, p.ProofHash, toNumeric(p.TargetAmount), toNumeric(p.TotalFunded), p.Deadline,
			p.Approved, p.DecisionMade, p.Closed, int64(p.ApproveCount), int64(p.RejectCount), int64(p.QuorumPercent), p.CreatedAt,
		)
	}
	for _, a := range snap.Activities {
		batch.Queue(`
			INSERT INTO activities (id, kind, creator, title, description, amount_or_target, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (kind, id) DO NOTHING`,
			a.ID, a.Kind, a.Creator, a.Title, a.Description, toNumeric(a.AmountOrTarget), a.CreatedAt,
		)
	}

	if batch.Len() > 0 {
		br := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("error writing snapshot row %d: %w", i, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("error closing snapshot batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("error committing snapshot: %w", err)
	}
	return nil
}

const requestCols = `id, beneficiary, amount, description, proof_hash,
	approve_count, reject_count, quorum_percent, dao_decision_made, dao_approved,
	donor_vote_deadline, donor_approve_count, donor_reject_count, paid, done, created_at`

func scanRequest(scan func(dest ...interface{}) error) (models.Request, error) {
	var r models.Request
	var amount pgtype.Numeric
	var approve, reject, quorum, donorApprove, donorReject int64

	err := scan(
		&r.ID, &r.Beneficiary, &amount, &r.Description, &r.ProofHash,
		&approve, &reject, &quorum, &r.DAODecisionMade, &r.DAOApproved,
		&r.DonorVoteDeadline, &donorApprove, &donorReject, &r.Paid, &r.Done, &r.CreatedAt,
	)
	if err != nil {
		return r, err
	}
	r.Amount = fromNumeric(amount)
	r.ApproveCount, r.RejectCount, r.QuorumPercent = uint64(approve), uint64(reject), uint64(quorum)
	r.DonorApproveCount, r.DonorRejectCount = uint64(donorApprove), uint64(donorReject)
	return r, nil
}

const projectCols = `id, owner, title, description, proof_hash, target_amount, total_funded, deadline,
	approved, decision_made, closed, approve_count, reject_count, quorum_percent, created_at`

func scanProject(scan func(dest ...interface{}) error) (models.Project, error) {
	var p models.Project
	var target, funded pgtype.Numeric
	var approve, reject, quorum int64

	err := scan(
		&p.ID, &p.Owner, &p.Title, &p.Description, &p.ProofHash, &target, &funded, &p.Deadline,
		&p.Approved, &p.DecisionMade, &p.Closed, &approve, &reject, &quorum, &p.CreatedAt,
	)
	if err != nil {
		return p, err
	}
	p.TargetAmount, p.TotalFunded = fromNumeric(target), fromNumeric(funded)
	p.ApproveCount, p.RejectCount, p.QuorumPercent = uint64(approve), uint64(reject), uint64(quorum)
	return p, nil
}

func addressClause(column string, f EntityFilter) (string, []interface{}) {
	addr := strings.TrimSpace(f.Address)
	if addr == "" {
		return "", nil
	}
	return fmt.Sprintf(" WHERE lower(%s) = lower($1)", column), []interface{}{addr}
}

func (s *Store) ListRequests(ctx context.Context, f EntityFilter) ([]models.Request, error) {
	where, args := addressClause("beneficiary", f)
	rows, err := s.pool.Query(ctx,
		"SELECT "+requestCols+" FROM requests"+where+" ORDER BY created_at DESC NULLS LAST, id", args...)
	if err != nil {
		return nil, fmt.Errorf("error listing requests: %w", err)
	}
	defer rows.Close()

	reqs := []models.Request{}
	for rows.Next() {
		r, err := scanRequest(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("error scanning request: %w", err)
		}
		reqs = append(reqs, r)
	}
	return reqs, rows.Err()
}

func (s *Store) GetRequest(ctx context.Context, id string) (models.Request, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+requestCols+" FROM requests WHERE id = $1", id)
	r, err := scanRequest(row.Scan)
	if err != nil {
		return r, notFound(err, "request")
	}
	return r, nil
}

func (s *Store) ListProjects(ctx context.Context, f EntityFilter) ([]models.Project, error) {
	where, args := addressClause("owner", f)
	rows, err := s.pool.Query(ctx,
		"SELECT "+projectCols+" FROM projects"+where+" ORDER BY created_at DESC NULLS LAST, id", args...)
	if err != nil {
		return nil, fmt.Errorf("error listing projects: %w", err)
	}
	defer rows.Close()

	projects := []models.Project{}
	for rows.Next() {
		p, err := scanProject(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("error scanning project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *Store) GetProject(ctx context.Context, id string) (models.Project, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+projectCols+" FROM projects WHERE id = $1", id)
	p, err := scanProject(row.Scan)
	if err != nil {
		return p, notFound(err, "project")
	}
	return p, nil
}

func (s *Store) ListActivities(ctx context.Context, limit int) ([]models.Activity, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, kind, creator, title, description, amount_or_target, created_at
		FROM activities ORDER BY created_at DESC, id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("error listing activities: %w", err)
	}
	defer rows.Close()

	activities := []models.Activity{}
	for rows.Next() {
		var a models.Activity
		var amount pgtype.Numeric
		if err := rows.Scan(&a.ID, &a.Kind, &a.Creator, &a.Title, &a.Description, &amount, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning activity: %w", err)
		}
		a.AmountOrTarget = fromNumeric(amount)
		activities = append(activities, a)
	}
	return activities, rows.Err()
}
