// Пакет batch — прогон пакета депозитов: восстановление после сбоя,
// разбор инструкций, проверка предусловий, сборка депозитов пулом
// исполнителей и итоговый отчёт.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rkruithof/easy-split-multi-deposit/internal/config"
	"github.com/rkruithof/easy-split-multi-deposit/internal/domain/failure"
	"github.com/rkruithof/easy-split-multi-deposit/internal/domain/model"
	"github.com/rkruithof/easy-split-multi-deposit/internal/domain/state"
	"github.com/rkruithof/easy-split-multi-deposit/internal/layout"
	"github.com/rkruithof/easy-split-multi-deposit/internal/metrics"
	"github.com/rkruithof/easy-split-multi-deposit/internal/parser"
	"github.com/rkruithof/easy-split-multi-deposit/internal/pipeline"
	"github.com/rkruithof/easy-split-multi-deposit/internal/storage/journal"
	"github.com/rkruithof/easy-split-multi-deposit/internal/validation"
)

// ResultStore — хранилище итогов прогонов (реализуется report.Repository).
type ResultStore interface {
	SaveRun(ctx context.Context, r *Report) error
}

// Options — зависимости Runner.
type Options struct {
	Settings *config.Settings
	Detector parser.Detector
	Resolver validation.Resolver
	Journal  *journal.Journal
	// Parallelism — число депозитов, собираемых одновременно (минимум 1)
	Parallelism int
	// Store — необязательное хранилище отчётов
	Store ResultStore
	// PushgatewayURL — необязательный адрес Pushgateway
	PushgatewayURL string
	Logger         *slog.Logger
}

// Runner выполняет прогон одного пакета.
type Runner struct {
	opts      Options
	validator *validation.Validator
	engine    *pipeline.Engine
	logger    *slog.Logger
	now       func() time.Time
	// planFor — построение действий депозита (подменяется в тестах)
	planFor   func(*config.Settings, *validation.Validated, time.Time, *slog.Logger) *pipeline.Plan
}

// NewRunner создаёт Runner.
func NewRunner(opts Options) *Runner {
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	if opts.Detector == nil {
		opts.Detector = parser.ContentDetector
	}
	return &Runner{
		opts:      opts,
		validator: validation.New(opts.Settings, opts.Resolver, opts.Logger),
		engine:    pipeline.NewEngine(opts.Journal, opts.Logger),
		logger:    opts.Logger.With(slog.String("component", "batch")),
		now:       time.Now,
		planFor:   pipeline.NewPlan,
	}
}

// Run выполняет полный прогон. Ошибка возвращается только для
// фатальных сбоев (справочник, журнал); отчёт возвращается всегда.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	report := r.newReport(false)
	defer r.finish(ctx, report)

	recovered, err := r.opts.Journal.Recover()
	if err != nil {
		report.Fatal = fmt.Errorf("восстановление журнала: %w", err)
		return report, report.Fatal
	}
	if recovered > 0 {
		r.logger.Warn("Очищены депозиты прерванного прогона", slog.Int("count", recovered))
	}

	batch, res, err := r.prepare(ctx, report)
	if err != nil || batch == nil {
		return report, err
	}

	outcomes := r.execute(ctx, report.RunID, res.Valid)
	r.collect(report, batch, res, outcomes)

	if _, err := r.opts.Journal.CleanCompleted(); err != nil {
		r.logger.Warn("Ошибка очистки журнала", slog.String("error", err.Error()))
	}
	return report, nil
}

// Validate выполняет разбор и проверку предусловий без изменения файлов.
func (r *Runner) Validate(ctx context.Context) (*Report, error) {
	report := r.newReport(true)
	defer r.finish(ctx, report)

	batch, res, err := r.prepare(ctx, report)
	if err != nil || batch == nil {
		return report, err
	}
	r.collect(report, batch, res, nil)
	return report, nil
}

func (r *Runner) newReport(dryRun bool) *Report {
	return &Report{
		RunID:           uuid.NewString(),
		MultiDepositDir: r.opts.Settings.MultiDepositDir(),
		DryRun:          dryRun,
		StartedAt:       r.now().UTC(),
	}
}

// prepare разбирает инструкции и проверяет депозиты. Возвращает nil-пакет,
// если инструкции отвергнуты (проблемы записаны в отчёт).
func (r *Runner) prepare(ctx context.Context, report *Report) (*parser.Batch, *validation.Result, error) {
	batch, err := parser.ParseFile(r.opts.Settings, r.opts.Detector)
	if err != nil {
		var empty *failure.EmptyInstructionsError
		var parseErrs failure.ParseErrors
		switch {
		case errors.As(err, &empty):
			report.InputProblems = []string{empty.Error()}
		case errors.As(err, &parseErrs):
			for _, pe := range parseErrs {
				report.InputProblems = append(report.InputProblems, pe.Error())
			}
		default:
			report.InputProblems = []string{err.Error()}
		}
		r.logger.Error("Инструкции отвергнуты",
			slog.Int("problems", len(report.InputProblems)),
		)
		return nil, nil, nil
	}

	r.logger.Info("Инструкции разобраны", slog.Int("deposits", batch.Len()))

	res, err := r.validator.ValidateAll(ctx, batch)
	if err != nil {
		report.Fatal = err
		r.logger.Error("Прогон прерван", slog.String("error", err.Error()))
		return nil, nil, err
	}
	return batch, res, nil
}

// execute собирает проверенные депозиты пулом из Parallelism исполнителей.
// После отмены ctx новые депозиты не начинаются.
func (r *Runner) execute(ctx context.Context, runID string, valid []*validation.Validated) []*depositRun {
	runs := make([]*depositRun, len(valid))
	now := r.now()

	sem := make(chan struct{}, r.opts.Parallelism)
	var wg sync.WaitGroup
	for i, v := range valid {
		// Ограничение concurrency; депозиты начинаются в порядке инструкций
		sem <- struct{}{}
		if ctx.Err() != nil {
			<-sem
			runs[i] = &depositRun{v: v}
			continue
		}

		wg.Add(1)
		go func(i int, v *validation.Validated) {
			defer wg.Done()
			defer func() { <-sem }()

			plan := r.planFor(r.opts.Settings, v, now, r.opts.Logger)
			outcome := r.engine.Run(ctx, runID, v.Dataset.ID, pipeline.CleanupPaths(v.Layout), plan.Actions)
			if outcome.Succeeded() {
				metrics.PayloadBytesTotal.Add(float64(plan.PayloadBytes()))
			}
			runs[i] = &depositRun{v: v, plan: plan, outcome: outcome}
		}(i, v)
	}
	wg.Wait()
	return runs
}

// depositRun — результат сборки одного депозита; outcome == nil, если
// депозит не начат.
type depositRun struct {
	v       *validation.Validated
	plan    *pipeline.Plan
	outcome *pipeline.Outcome
}

// collect формирует строки отчёта в порядке появления депозитов в инструкциях.
func (r *Runner) collect(report *Report, batch *parser.Batch, res *validation.Result, runs []*depositRun) {
	problems := make(map[model.DepositID][]string)
	for _, f := range res.Failures {
		problems[f.DepositID] = append(problems[f.DepositID], f.Error())
	}
	runByID := make(map[model.DepositID]*depositRun, len(runs))
	for _, run := range runs {
		runByID[run.v.Dataset.ID] = run
	}

	for _, id := range batch.Order {
		d := DepositResult{
			DepositID: id,
			Name:      layout.For(r.opts.Settings, id).Name,
		}
		run, executed := runByID[id]
		switch {
		case len(problems[id]) > 0:
			d.Status = StatusInvalid
			d.Problems = problems[id]
		case report.DryRun:
			d.Status = StatusValid
		case !executed:
			continue
		case run.outcome == nil:
			d.Status = StatusSkipped
			d.Problems = []string{"run canceled before the deposit started"}
		default:
			fillOutcome(&d, run)
		}
		report.Deposits = append(report.Deposits, d)
	}
}

func fillOutcome(d *DepositResult, run *depositRun) {
	o := run.outcome
	d.Duration = o.Duration
	d.FailedAction = o.FailedAction

	switch o.State {
	case state.Succeeded:
		d.Status = StatusSucceeded
		d.PayloadBytes = run.plan.PayloadBytes()
		d.BagID = run.plan.BagID()
		return
	case state.Fatal:
		d.Status = StatusFatal
	default:
		d.Status = StatusRolledBack
	}
	if o.Err != nil {
		d.Problems = append(d.Problems, o.Err.Error())
	}
	for _, err := range o.RollbackErrs {
		d.Problems = append(d.Problems, "rollback: "+err.Error())
	}
}

// finish фиксирует время окончания, сохраняет отчёт и отправляет метрики.
// Ошибки хранилища и Pushgateway не меняют итог прогона.
func (r *Runner) finish(ctx context.Context, report *Report) {
	report.FinishedAt = r.now().UTC()
	saveCtx := context.WithoutCancel(ctx)

	if r.opts.Store != nil {
		if err := r.opts.Store.SaveRun(saveCtx, report); err != nil {
			r.logger.Warn("Ошибка сохранения отчёта", slog.String("error", err.Error()))
		}
	}
	if r.opts.PushgatewayURL != "" && !report.DryRun {
		if err := metrics.Push(saveCtx, r.opts.PushgatewayURL, report.RunID); err != nil {
			r.logger.Warn("Ошибка отправки метрик", slog.String("error", err.Error()))
		}
	}

	r.logger.Info("Прогон завершён",
		slog.String("run_id", report.RunID),
		slog.Int("succeeded", len(report.Succeeded())),
		slog.Int("failed", len(report.Failed())),
		slog.Int("exit_code", report.ExitCode()),
	)
}
