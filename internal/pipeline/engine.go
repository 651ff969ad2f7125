package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rkruithof/easy-split-multi-deposit/internal/domain/failure"
	"github.com/rkruithof/easy-split-multi-deposit/internal/domain/model"
	"github.com/rkruithof/easy-split-multi-deposit/internal/domain/state"
	"github.com/rkruithof/easy-split-multi-deposit/internal/metrics"
	"github.com/rkruithof/easy-split-multi-deposit/internal/storage/journal"
)

// Outcome — итог обработки одного депозита.
type Outcome struct {
	DepositID model.DepositID
	State     state.State
	// FailedAction — действие, на котором остановился депозит
	FailedAction string
	// Err — *failure.ActionError отказавшего действия либо ошибка журнала
	Err error
	// RollbackErrs — ошибки откатов; непустой список означает State == Fatal
	RollbackErrs []error
	// Executed — число успешно выполненных действий
	Executed int
	// TransactionID — запись журнала прогона депозита
	TransactionID string
	Duration      time.Duration
}

// Succeeded сообщает, собран ли депозит полностью.
func (o *Outcome) Succeeded() bool { return o.State == state.Succeeded }

// PreconditionFailed сообщает, остановился ли депозит на предусловиях действия.
func (o *Outcome) PreconditionFailed() bool {
	var ae *failure.ActionError
	return errors.As(o.Err, &ae) && ae.Precondition
}

// Engine выполняет действия депозита с откатом при ошибке.
// Безопасен для параллельного вызова Run для разных депозитов.
type Engine struct {
	journal *journal.Journal
	logger  *slog.Logger
}

// NewEngine создаёт Engine. Каждый прогон депозита записывается в журнал.
func NewEngine(j *journal.Journal, logger *slog.Logger) *Engine {
	return &Engine{
		journal: j,
		logger:  logger.With(slog.String("component", "pipeline")),
	}
}

// Run выполняет actions по порядку. cleanup — пути, которые удалит
// восстановление, если процесс завершится посреди депозита.
//
// Отмена ctx не прерывает начатый депозит: откаты выполняются
// с контекстом без отмены.
func (e *Engine) Run(ctx context.Context, runID string, id model.DepositID, cleanup []string, actions []Action) *Outcome {
	start := time.Now()
	out := &Outcome{DepositID: id, State: state.Pending}
	log := e.logger.With(slog.String("deposit_id", string(id)))

	sm, err := state.NewStateMachine(state.Pending)
	if err != nil {
		out.Err = err
		return out
	}

	entry, err := e.journal.Begin(runID, string(id), cleanup)
	if err != nil {
		out.Err = fmt.Errorf("ошибка записи в журнал: %w", err)
		log.Error("Депозит не начат", slog.String("error", out.Err.Error()))
		return out
	}
	out.TransactionID = entry.TransactionID

	failedAt := -1
	for i, a := range actions {
		if err := sm.Begin(a.Name()); err != nil {
			out.Err = err
			failedAt = i
			break
		}
		if err := e.runAction(ctx, id, a); err != nil {
			out.Err = err
			failedAt = i
			break
		}
		out.Executed++
	}

	if failedAt < 0 {
		e.finish(sm, state.Succeeded, out, start)
		if err := e.journal.Commit(entry.TransactionID); err != nil {
			log.Warn("Ошибка фиксации журнала", slog.String("error", err.Error()))
		}
		log.Info("Депозит собран",
			slog.Int("actions", out.Executed),
			slog.Duration("duration", out.Duration),
		)
		return out
	}

	out.FailedAction = actions[failedAt].Name()
	log.Warn("Действие отказало, откат выполненных действий",
		slog.String("action", out.FailedAction),
		slog.String("error", out.Err.Error()),
	)

	rollbackCtx := context.WithoutCancel(ctx)
	for j := failedAt - 1; j >= 0; j-- {
		a := actions[j]
		if err := a.Rollback(rollbackCtx); err != nil {
			metrics.RollbacksTotal.WithLabelValues(a.Name(), metrics.ResultFailure).Inc()
			out.RollbackErrs = append(out.RollbackErrs, &failure.ActionError{
				DepositID: id,
				Action:    a.Name(),
				Cause:     err,
			})
			log.Error("Ошибка отката действия",
				slog.String("action", a.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		metrics.RollbacksTotal.WithLabelValues(a.Name(), metrics.ResultSuccess).Inc()
	}

	if len(out.RollbackErrs) > 0 {
		// Запись журнала остаётся pending: восстановление повторит очистку
		e.finish(sm, state.Fatal, out, start)
		log.Error("Откат не завершён, депозит в состоянии fatal",
			slog.Int("rollback_errors", len(out.RollbackErrs)),
		)
		return out
	}

	e.finish(sm, state.RolledBack, out, start)
	if err := e.journal.Rollback(entry.TransactionID); err != nil {
		log.Warn("Ошибка записи отката в журнал", slog.String("error", err.Error()))
	}
	return out
}

// runAction проверяет предусловия и выполняет одно действие.
func (e *Engine) runAction(ctx context.Context, id model.DepositID, a Action) error {
	start := time.Now()
	defer func() {
		metrics.ActionDuration.WithLabelValues(a.Name()).Observe(time.Since(start).Seconds())
	}()

	if err := a.CheckPreconditions(ctx); err != nil {
		metrics.ActionsTotal.WithLabelValues(a.Name(), metrics.ResultFailure).Inc()
		return &failure.ActionError{DepositID: id, Action: a.Name(), Precondition: true, Cause: err}
	}
	if err := a.Execute(ctx); err != nil {
		metrics.ActionsTotal.WithLabelValues(a.Name(), metrics.ResultFailure).Inc()
		return &failure.ActionError{DepositID: id, Action: a.Name(), Cause: err}
	}
	metrics.ActionsTotal.WithLabelValues(a.Name(), metrics.ResultSuccess).Inc()
	return nil
}

func (e *Engine) finish(sm *state.StateMachine, target state.State, out *Outcome, start time.Time) {
	if err := sm.Finish(target); err != nil {
		e.logger.Error("Недопустимый переход состояния",
			slog.String("deposit_id", string(out.DepositID)),
			slog.String("error", err.Error()),
		)
	}
	out.State = sm.Current()
	out.Duration = time.Since(start)

	result := metrics.ResultFailure
	if out.State == state.Succeeded {
		result = metrics.ResultSuccess
	}
	metrics.DepositsTotal.WithLabelValues(result).Inc()
}
