package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rkruithof/easy-split-multi-deposit/internal/batch"
)

// Ошибки репозитория.
var (
	// ErrNotFound — прогон не найден.
	ErrNotFound = errors.New("прогон не найден")
	// ErrConflict — прогон с таким идентификатором уже сохранён.
	ErrConflict = errors.New("прогон уже сохранён")
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// RunSummary — сохранённый прогон.
type RunSummary struct {
	RunID           string
	MultiDepositDir string
	DryRun          bool
	ExitCode        int
	FatalError      *string
	StartedAt       time.Time
	FinishedAt      time.Time
	Deposits        []DepositRow
}

// DepositRow — сохранённый результат депозита.
type DepositRow struct {
	DepositID    string
	Status       string
	FailedAction *string
	Problems     []string
	PayloadBytes int64
}

// Repository сохраняет итоги прогонов. Реализует batch.ResultStore.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository создаёт репозиторий.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// SaveRun сохраняет прогон и результаты его депозитов в одной транзакции.
func (r *Repository) SaveRun(ctx context.Context, rep *batch.Report) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := insertRun(ctx, tx, rep); err != nil {
		return err
	}
	for i, d := range rep.Deposits {
		if err := insertDeposit(ctx, tx, rep.RunID, i, d); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func insertRun(ctx context.Context, db DBTX, rep *batch.Report) error {
	var fatal *string
	if rep.Fatal != nil {
		msg := rep.Fatal.Error()
		fatal = &msg
	}
	problems := rep.InputProblems
	if problems == nil {
		problems = []string{}
	}

	_, err := db.Exec(ctx, `
		INSERT INTO batch_runs (run_id, multi_deposit_dir, dry_run, started_at, finished_at,
			exit_code, input_problems, fatal_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rep.RunID, rep.MultiDepositDir, rep.DryRun, rep.StartedAt, rep.FinishedAt,
		rep.ExitCode(), problems, fatal,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrConflict, rep.RunID)
		}
		return fmt.Errorf("ошибка сохранения прогона: %w", err)
	}
	return nil
}

func insertDeposit(ctx context.Context, db DBTX, runID string, position int, d batch.DepositResult) error {
	var failedAction, bagID *string
	if d.FailedAction != "" {
		failedAction = &d.FailedAction
	}
	if d.BagID != "" {
		bagID = &d.BagID
	}
	problems := d.Problems
	if problems == nil {
		problems = []string{}
	}

	_, err := db.Exec(ctx, `
		INSERT INTO deposit_results (run_id, position, deposit_id, name, status,
			failed_action, problems, payload_bytes, bag_id, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		runID, position, string(d.DepositID), d.Name, string(d.Status),
		failedAction, problems, d.PayloadBytes, bagID, d.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("ошибка сохранения депозита %s: %w", d.DepositID, err)
	}
	return nil
}

// GetRun возвращает сохранённый прогон с результатами депозитов.
func (r *Repository) GetRun(ctx context.Context, runID string) (*RunSummary, error) {
	s := &RunSummary{}
	err := r.pool.QueryRow(ctx, `
		SELECT run_id::text, multi_deposit_dir, dry_run, exit_code, fatal_error, started_at, finished_at
		FROM batch_runs
		WHERE run_id = $1`, runID,
	).Scan(&s.RunID, &s.MultiDepositDir, &s.DryRun, &s.ExitCode, &s.FatalError, &s.StartedAt, &s.FinishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка чтения прогона: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT deposit_id, status, failed_action, problems, payload_bytes
		FROM deposit_results
		WHERE run_id = $1
		ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения депозитов: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var d DepositRow
		if err := rows.Scan(&d.DepositID, &d.Status, &d.FailedAction, &d.Problems, &d.PayloadBytes); err != nil {
			return nil, fmt.Errorf("ошибка сканирования депозита: %w", err)
		}
		s.Deposits = append(s.Deposits, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения депозитов: %w", err)
	}
	return s, nil
}

// Print выводит сохранённый прогон в форме, близкой к отчёту прогона.
func (s *RunSummary) Print(w io.Writer) {
	mode := "run"
	if s.DryRun {
		mode = "validation"
	}
	fmt.Fprintf(w, "%s %s of %s\n", mode, s.RunID, s.MultiDepositDir)
	fmt.Fprintf(w, "started %s, finished in %s, exit code %d\n",
		s.StartedAt.Format(time.RFC3339), s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond), s.ExitCode)
	if s.FatalError != nil {
		fmt.Fprintf(w, "FATAL: %s\n", *s.FatalError)
	}

	for _, d := range s.Deposits {
		switch {
		case d.FailedAction != nil:
			fmt.Fprintf(w, "  %s: %s at %s\n", d.DepositID, d.Status, *d.FailedAction)
		case d.PayloadBytes > 0:
			fmt.Fprintf(w, "  %s: %s (%s)\n", d.DepositID, d.Status, humanize.Bytes(uint64(d.PayloadBytes)))
		default:
			fmt.Fprintf(w, "  %s: %s\n", d.DepositID, d.Status)
		}
		for _, p := range d.Problems {
			fmt.Fprintf(w, "    - %s\n", p)
		}
	}
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
