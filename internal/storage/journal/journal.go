package journal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rkruithof/easy-split-multi-deposit/internal/storage/fsutil"
)

// Journal — файловый журнал сборки депозитов. Потокобезопасен.
type Journal struct {
	// dir — директория хранения записей (MD_JOURNAL_DIR)
	dir string
	// mu — мьютекс для потокобезопасности
	mu sync.Mutex
	// logger — логгер
	logger *slog.Logger
}

// New создаёт журнал. Проверяет и создаёт директорию, если она
// не существует. Возвращает ошибку при проблемах с FS.
func New(dir string, logger *slog.Logger) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию журнала %s: %w", dir, err)
	}

	testFile := filepath.Join(dir, ".journal_write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o640); err != nil {
		return nil, fmt.Errorf("директория журнала %s недоступна для записи: %w", dir, err)
	}
	os.Remove(testFile)

	return &Journal{
		dir:    dir,
		logger: logger.With(slog.String("component", "journal")),
	}, nil
}

// Begin создаёт запись со статусом pending.
// cleanup — пути, удаляемые при восстановлении, если прогон прервётся.
func (j *Journal) Begin(runID, depositID string, cleanup []string) (*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entry := &Entry{
		TransactionID: uuid.New().String(),
		RunID:         runID,
		DepositID:     depositID,
		Status:        StatusPending,
		CleanupPaths:  cleanup,
		StartedAt:     time.Now().UTC(),
	}

	if err := j.writeEntry(entry); err != nil {
		return nil, fmt.Errorf("не удалось создать запись журнала: %w", err)
	}

	j.logger.Debug("Сборка депозита начата",
		slog.String("tx_id", entry.TransactionID),
		slog.String("deposit_id", depositID),
	)
	return entry, nil
}

// Commit помечает запись как успешно завершённую.
func (j *Journal) Commit(txID string) error {
	return j.complete(txID, StatusCommitted)
}

// Rollback помечает запись как отменённую.
func (j *Journal) Rollback(txID string) error {
	return j.complete(txID, StatusRolledBack)
}

func (j *Journal) complete(txID string, status TransactionStatus) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	entry, err := j.readEntry(txID)
	if err != nil {
		return fmt.Errorf("не удалось прочитать запись журнала %s: %w", txID, err)
	}

	if entry.Status != StatusPending {
		return fmt.Errorf("запись журнала %s имеет статус %s, ожидается %s", txID, entry.Status, StatusPending)
	}

	now := time.Now().UTC()
	entry.Status = status
	entry.CompletedAt = &now

	if err := j.writeEntry(entry); err != nil {
		return fmt.Errorf("не удалось обновить запись журнала %s: %w", txID, err)
	}

	j.logger.Debug("Запись журнала завершена",
		slog.String("tx_id", txID),
		slog.String("deposit_id", entry.DepositID),
		slog.String("status", string(status)),
		slog.Duration("duration", now.Sub(entry.StartedAt)),
	)
	return nil
}

// RecoverPending находит и возвращает все записи со статусом pending.
// Вызывается при старте прогона для очистки после аварийного завершения.
func (j *Journal) RecoverPending() ([]*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	paths, err := filepath.Glob(filepath.Join(j.dir, "*"+fileSuffix))
	if err != nil {
		return nil, fmt.Errorf("не удалось сканировать директорию журнала: %w", err)
	}

	var pending []*Entry
	for _, path := range paths {
		txID := strings.TrimSuffix(filepath.Base(path), fileSuffix)
		entry, err := j.readEntry(txID)
		if err != nil {
			j.logger.Warn("Не удалось прочитать запись журнала при восстановлении",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}

		if entry.Status == StatusPending {
			pending = append(pending, entry)
			j.logger.Warn("Обнаружена незавершённая сборка депозита",
				slog.String("tx_id", entry.TransactionID),
				slog.String("run_id", entry.RunID),
				slog.String("deposit_id", entry.DepositID),
				slog.Time("started_at", entry.StartedAt),
			)
		}
	}
	return pending, nil
}

// Recover удаляет пути незавершённых записей и помечает их отменёнными.
// Возвращает количество восстановленных записей. Записи, пути которых
// удалить не удалось, остаются pending до следующей попытки.
func (j *Journal) Recover() (int, error) {
	pending, err := j.RecoverPending()
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, entry := range pending {
		if err := removePaths(entry.CleanupPaths); err != nil {
			j.logger.Error("Не удалось очистить незавершённый депозит",
				slog.String("tx_id", entry.TransactionID),
				slog.String("deposit_id", entry.DepositID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := j.Rollback(entry.TransactionID); err != nil {
			return recovered, err
		}
		recovered++
	}

	if recovered > 0 {
		j.logger.Info("Восстановление журнала завершено",
			slog.Int("recovered", recovered),
		)
	}
	return recovered, nil
}

func removePaths(paths []string) error {
	for _, p := range paths {
		if ok, err := fsutil.Exists(p); err != nil {
			return err
		} else if !ok {
			continue
		}
		if err := os.RemoveAll(p); err != nil {
			return fmt.Errorf("ошибка удаления %s: %w", p, err)
		}
	}
	return nil
}

// GetTransaction читает запись журнала по идентификатору.
func (j *Journal) GetTransaction(txID string) (*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.readEntry(txID)
}

// CleanCompleted удаляет все завершённые (committed/rolled_back) записи.
func (j *Journal) CleanCompleted() (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	paths, err := filepath.Glob(filepath.Join(j.dir, "*"+fileSuffix))
	if err != nil {
		return 0, fmt.Errorf("не удалось сканировать директорию журнала: %w", err)
	}

	cleaned := 0
	for _, path := range paths {
		txID := strings.TrimSuffix(filepath.Base(path), fileSuffix)
		entry, err := j.readEntry(txID)
		if err != nil {
			continue
		}

		if entry.Status == StatusCommitted || entry.Status == StatusRolledBack {
			if err := os.Remove(path); err != nil {
				j.logger.Warn("Не удалось удалить завершённую запись журнала",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)
				continue
			}
			cleaned++
		}
	}

	if cleaned > 0 {
		j.logger.Info("Очистка журнала завершена",
			slog.Int("cleaned", cleaned),
		)
	}
	return cleaned, nil
}

// writeEntry атомарно записывает запись на диск.
func (j *Journal) writeEntry(entry *Entry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации: %w", err)
	}
	return fsutil.WriteFileAtomic(filepath.Join(j.dir, entryFileName(entry.TransactionID)), data, 0o640)
}

// readEntry читает запись из файла.
func (j *Journal) readEntry(txID string) (*Entry, error) {
	data, err := os.ReadFile(filepath.Join(j.dir, entryFileName(txID)))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("ошибка десериализации: %w", err)
	}
	return &entry, nil
}

// Dir возвращает путь к директории журнала.
func (j *Journal) Dir() string {
	return j.dir
}
