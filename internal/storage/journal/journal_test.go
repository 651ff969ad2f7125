package journal

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// testLogger возвращает логгер для тестов (вывод подавляется).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func newJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания журнала: %v", err)
	}
	return j
}

// TestNew_CreatesDirectory проверяет, что New создаёт директорию журнала.
func TestNew_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "journal")

	j, err := New(dir, testLogger())
	if err != nil {
		t.Fatalf("ожидалось успешное создание журнала, получена ошибка: %v", err)
	}
	if j.Dir() != dir {
		t.Errorf("ожидался путь %s, получен %s", dir, j.Dir())
	}

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("директория журнала не создана: %v", err)
	}
	if !info.IsDir() {
		t.Fatalf("путь журнала не является директорией")
	}
}

// TestBegin проверяет создание новой записи.
func TestBegin(t *testing.T) {
	j := newJournal(t)

	entry, err := j.Begin("run-1", "ds1", []string{"/staging/batch-ds1"})
	if err != nil {
		t.Fatalf("ошибка создания записи: %v", err)
	}

	if entry.TransactionID == "" {
		t.Error("TransactionID не должен быть пустым")
	}
	if entry.Status != StatusPending {
		t.Errorf("ожидался статус %s, получен %s", StatusPending, entry.Status)
	}
	if entry.CompletedAt != nil {
		t.Error("CompletedAt должен быть nil для pending записи")
	}

	// Запись сохранена на диск
	data, err := os.ReadFile(filepath.Join(j.Dir(), entryFileName(entry.TransactionID)))
	if err != nil {
		t.Fatalf("файл записи не найден: %v", err)
	}
	var stored Entry
	if err := json.Unmarshal(data, &stored); err != nil {
		t.Fatalf("ошибка десериализации: %v", err)
	}
	if stored.DepositID != "ds1" || len(stored.CleanupPaths) != 1 {
		t.Errorf("неверная запись на диске: %+v", stored)
	}
}

// TestCommitAndRollback проверяет завершение записей.
func TestCommitAndRollback(t *testing.T) {
	j := newJournal(t)

	committed, _ := j.Begin("run-1", "ds1", nil)
	rolledBack, _ := j.Begin("run-1", "ds2", nil)

	if err := j.Commit(committed.TransactionID); err != nil {
		t.Fatalf("ошибка фиксации: %v", err)
	}
	if err := j.Rollback(rolledBack.TransactionID); err != nil {
		t.Fatalf("ошибка отката: %v", err)
	}

	got, err := j.GetTransaction(committed.TransactionID)
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	if got.Status != StatusCommitted || got.CompletedAt == nil {
		t.Errorf("ожидался статус committed с временем завершения, получено %+v", got)
	}

	got, _ = j.GetTransaction(rolledBack.TransactionID)
	if got.Status != StatusRolledBack {
		t.Errorf("ожидался статус rolled_back, получен %s", got.Status)
	}

	// Повторное завершение запрещено
	if err := j.Commit(committed.TransactionID); err == nil {
		t.Error("ожидалась ошибка при повторной фиксации")
	}
	if err := j.Rollback(committed.TransactionID); err == nil {
		t.Error("ожидалась ошибка при откате зафиксированной записи")
	}
}

// TestGetTransaction_NotFound проверяет ошибку для несуществующей записи.
func TestGetTransaction_NotFound(t *testing.T) {
	j := newJournal(t)
	if _, err := j.GetTransaction("nonexistent"); err == nil {
		t.Fatal("ожидалась ошибка для несуществующей записи")
	}
}

// TestRecoverPending проверяет поиск незавершённых записей.
func TestRecoverPending(t *testing.T) {
	j := newJournal(t)

	e1, _ := j.Begin("run-1", "ds1", nil)
	e2, _ := j.Begin("run-1", "ds2", nil)
	e3, _ := j.Begin("run-1", "ds3", nil)
	_ = j.Commit(e2.TransactionID)

	// Повреждённый файл пропускается
	if err := os.WriteFile(filepath.Join(j.Dir(), "broken"+fileSuffix), []byte("{"), 0o640); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}

	pending, err := j.RecoverPending()
	if err != nil {
		t.Fatalf("ошибка восстановления: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("ожидалось 2 pending записи, получено %d", len(pending))
	}

	ids := map[string]bool{}
	for _, e := range pending {
		ids[e.TransactionID] = true
	}
	if !ids[e1.TransactionID] || !ids[e3.TransactionID] {
		t.Error("неверный набор pending записей")
	}
}

// TestRecover проверяет очистку путей незавершённых сборок.
func TestRecover(t *testing.T) {
	j := newJournal(t)
	root := t.TempDir()

	staging := filepath.Join(root, "staging", "batch-ds1")
	partial := filepath.Join(root, "output", ".batch-ds1.partial")
	for _, dir := range []string{filepath.Join(staging, "bag", "data"), partial} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("ошибка создания каталога: %v", err)
		}
	}
	missing := filepath.Join(root, "never-created")

	entry, _ := j.Begin("run-1", "ds1", []string{staging, partial, missing})
	done, _ := j.Begin("run-1", "ds2", []string{filepath.Join(root, "keep")})
	_ = j.Commit(done.TransactionID)

	recovered, err := j.Recover()
	if err != nil {
		t.Fatalf("ошибка восстановления: %v", err)
	}
	if recovered != 1 {
		t.Errorf("ожидалась 1 восстановленная запись, получено %d", recovered)
	}

	for _, p := range []string{staging, partial} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("путь %s должен быть удалён", p)
		}
	}

	got, _ := j.GetTransaction(entry.TransactionID)
	if got.Status != StatusRolledBack {
		t.Errorf("ожидался статус rolled_back, получен %s", got.Status)
	}

	// Повторное восстановление ничего не делает
	if n, err := j.Recover(); err != nil || n != 0 {
		t.Errorf("повторное восстановление: %d, %v", n, err)
	}
}

// TestCleanCompleted проверяет удаление завершённых записей.
func TestCleanCompleted(t *testing.T) {
	j := newJournal(t)

	e1, _ := j.Begin("run-1", "ds1", nil)
	e2, _ := j.Begin("run-1", "ds2", nil)
	e3, _ := j.Begin("run-1", "ds3", nil)
	_ = j.Commit(e1.TransactionID)
	_ = j.Rollback(e2.TransactionID)

	cleaned, err := j.CleanCompleted()
	if err != nil {
		t.Fatalf("ошибка очистки: %v", err)
	}
	if cleaned != 2 {
		t.Errorf("ожидалось 2 удалённые записи, получено %d", cleaned)
	}

	if _, err := j.GetTransaction(e3.TransactionID); err != nil {
		t.Errorf("pending запись должна сохраниться: %v", err)
	}
	if _, err := j.GetTransaction(e1.TransactionID); err == nil {
		t.Error("зафиксированная запись должна быть удалена")
	}
}

// TestConcurrentAccess проверяет потокобезопасность журнала.
func TestConcurrentAccess(t *testing.T) {
	j := newJournal(t)

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, err := j.Begin("run-1", "ds", nil)
			if err != nil {
				errs <- err
				return
			}
			if err := j.Commit(e.TransactionID); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("ошибка при конкурентном доступе: %v", err)
	}

	pending, _ := j.RecoverPending()
	if len(pending) != 0 {
		t.Errorf("ожидалось 0 pending записей, получено %d", len(pending))
	}
}
