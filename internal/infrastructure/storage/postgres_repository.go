package storage

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	json "github.com/goccy/go-json"
	"github.com/lib/pq"

	"BillScanner/internal/domain"
	"BillScanner/internal/ports"
)

const (
	analysesTable = "bill_analyses"
	upsertBatch   = 200
)

var analysisColumns = []string{
	"run",
	"bill_number",
	"title",
	"status",
	"sponsor",
	"analysis_status",
	"issue_count",
	"issues",
	"findings",
	"execution_id",
	"updated_at",
}

const upsertSuffix = `ON CONFLICT (run, bill_number) DO UPDATE
SET title = EXCLUDED.title,
    status = EXCLUDED.status,
    sponsor = EXCLUDED.sponsor,
    analysis_status = EXCLUDED.analysis_status,
    issue_count = EXCLUDED.issue_count,
    issues = EXCLUDED.issues,
    findings = EXCLUDED.findings,
    execution_id = EXCLUDED.execution_id,
    updated_at = EXCLUDED.updated_at`

// PostgresRepository mirrors the enriched dataset into Postgres.
type PostgresRepository struct {
	db *sql.DB
}

var _ ports.BillRepository = (*PostgresRepository)(nil)

// NewPostgresRepository wires a sql.DB implementation.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// SaveEnriched upserts every record of the run in one transaction.
func (r *PostgresRepository) SaveEnriched(ctx context.Context, run domain.Run, executionID string, records []domain.EnrichedRecord) error {
	if r.db == nil || len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}

	for start := 0; start < len(records); start += upsertBatch {
		end := start + upsertBatch
		if end > len(records) {
			end = len(records)
		}

		query, args, err := upsertQuery(run, executionID, records[start:end])
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upsert analyses: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

func upsertQuery(run domain.Run, executionID string, records []domain.EnrichedRecord) (string, []interface{}, error) {
	insert := sq.Insert(analysesTable).
		Columns(analysisColumns...).
		PlaceholderFormat(sq.Dollar)

	for _, rec := range records {
		findings, err := json.Marshal(rec.Findings())
		if err != nil {
			return "", nil, fmt.Errorf("encode findings %s: %w", rec.ID, err)
		}

		issues := make([]string, 0, rec.IssueCount)
		for _, f := range rec.Findings() {
			issues = append(issues, f.Issue)
		}

		insert = insert.Values(
			run.String(),
			rec.ID,
			rec.Title,
			rec.Status,
			rec.Sponsor,
			analysisStatus(rec),
			rec.IssueCount,
			pq.Array(issues),
			string(findings),
			executionID,
			sq.Expr("NOW()"),
		)
	}

	query, args, err := insert.Suffix(upsertSuffix).ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build upsert: %w", err)
	}
	return query, args, nil
}

func analysisStatus(rec domain.EnrichedRecord) string {
	switch rec.State() {
	case domain.AnalysisComplete:
		return string(domain.AnalysisSucceeded)
	case domain.AnalysisUnusable:
		return string(domain.AnalysisFailed)
	default:
		return "absent"
	}
}

// AnalyzedBills returns which of ids already have a succeeded analysis stored for run.
func (r *PostgresRepository) AnalyzedBills(ctx context.Context, run domain.Run, ids []string) (map[string]bool, error) {
	if r.db == nil || len(ids) == 0 {
		return map[string]bool{}, nil
	}

	query, args, err := sq.Select("bill_number").
		From(analysesTable).
		Where(sq.Eq{"run": run.String(), "analysis_status": string(domain.AnalysisSucceeded)}).
		Where("bill_number = ANY(?)", pq.Array(ids)).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query analyzed: %w", err)
	}

	result := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan id: %w", err)
		}
		result[id] = true
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}

	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}

	return result, nil
}
