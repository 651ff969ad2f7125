package batch

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/rkruithof/easy-split-multi-deposit/internal/domain/model"
)

// Коды завершения процесса.
const (
	ExitOK            = 0
	ExitDepositFailed = 1
	ExitInput         = 2
	ExitConfig        = 3
	ExitFatal         = 4
)

// Status — итоговое состояние депозита в отчёте.
type Status string

const (
	// StatusSucceeded — депозит собран и перенесён в выходной каталог
	StatusSucceeded Status = "succeeded"
	// StatusValid — депозит прошёл проверку (режим validate)
	StatusValid Status = "valid"
	// StatusInvalid — депозит не прошёл проверку предусловий
	StatusInvalid Status = "precondition_failed"
	// StatusRolledBack — действие отказало, депозит откачен
	StatusRolledBack Status = "rolled_back"
	// StatusFatal — откат не завершён, возможен мусор в staging
	StatusFatal Status = "fatal"
	// StatusSkipped — депозит не начат из-за отмены прогона
	StatusSkipped Status = "skipped"
)

// DepositResult — строка отчёта по одному депозиту.
type DepositResult struct {
	DepositID model.DepositID
	// Name — имя каталога депозита
	Name         string
	Status       Status
	FailedAction string
	// Problems — причины отказа в порядке обнаружения
	Problems     []string
	PayloadBytes int64
	BagID        string
	Duration     time.Duration
}

// OK сообщает, завершился ли депозит без ошибок.
func (d *DepositResult) OK() bool {
	return d.Status == StatusSucceeded || d.Status == StatusValid
}

// Report — итог прогона пакета.
type Report struct {
	RunID           string
	MultiDepositDir string
	// DryRun — прогон только проверял депозиты (validate)
	DryRun     bool
	StartedAt  time.Time
	FinishedAt time.Time
	// InputProblems — пустые инструкции или ошибки разбора; депозиты не обрабатывались
	InputProblems []string
	// Fatal — ошибка, прервавшая прогон
	Fatal    error
	Deposits []DepositResult
}

// Succeeded возвращает успешно обработанные депозиты.
func (r *Report) Succeeded() []DepositResult {
	var out []DepositResult
	for _, d := range r.Deposits {
		if d.OK() {
			out = append(out, d)
		}
	}
	return out
}

// Failed возвращает депозиты с ошибками.
func (r *Report) Failed() []DepositResult {
	var out []DepositResult
	for _, d := range r.Deposits {
		if !d.OK() {
			out = append(out, d)
		}
	}
	return out
}

// ExitCode возвращает код завершения процесса для отчёта.
func (r *Report) ExitCode() int {
	switch {
	case r.Fatal != nil:
		return ExitFatal
	case len(r.InputProblems) > 0:
		return ExitInput
	case len(r.Failed()) > 0:
		return ExitDepositFailed
	default:
		return ExitOK
	}
}

// Print выводит отчёт в человекочитаемом виде.
func (r *Report) Print(w io.Writer) {
	mode := "run"
	if r.DryRun {
		mode = "validation"
	}
	fmt.Fprintf(w, "%s %s of %s\n", mode, r.RunID, r.MultiDepositDir)

	if r.Fatal != nil {
		fmt.Fprintf(w, "FATAL: %v\n", r.Fatal)
	}
	if len(r.InputProblems) > 0 {
		fmt.Fprintf(w, "instructions rejected, no deposit was processed:\n")
		for _, p := range r.InputProblems {
			fmt.Fprintf(w, "  - %s\n", p)
		}
	}

	succeeded, failed := r.Succeeded(), r.Failed()
	if len(succeeded) > 0 {
		fmt.Fprintf(w, "\n%d deposit(s) %s:\n", len(succeeded), succeeded[0].Status)
		for _, d := range succeeded {
			if d.Status == StatusSucceeded {
				fmt.Fprintf(w, "  %s -> %s (%s, %s)\n", d.DepositID, d.Name,
					humanize.Bytes(uint64(d.PayloadBytes)), d.Duration.Round(time.Millisecond))
			} else {
				fmt.Fprintf(w, "  %s\n", d.DepositID)
			}
		}
	}
	if len(failed) > 0 {
		fmt.Fprintf(w, "\n%d deposit(s) failed:\n", len(failed))
		for _, d := range failed {
			if d.FailedAction != "" {
				fmt.Fprintf(w, "  %s: %s at %s\n", d.DepositID, d.Status, d.FailedAction)
			} else {
				fmt.Fprintf(w, "  %s: %s\n", d.DepositID, d.Status)
			}
			for _, p := range d.Problems {
				fmt.Fprintf(w, "    - %s\n", p)
			}
		}
	}

	fmt.Fprintf(w, "\n%d succeeded, %d failed, finished in %s\n",
		len(succeeded), len(failed), r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
}
