// Пакет journal — файловый журнал сборки депозитов.
// Перед сборкой депозита создаётся запись со статусом pending и списком
// путей, которые нужно удалить при аварийном завершении; после сборки
// запись фиксируется (committed) или откатывается (rolled_back).
// При старте прогона pending записи предыдущего прогона восстанавливаются.
// Каждая запись — отдельный файл {tx_id}.journal.json.
package journal

import (
	"time"
)

// TransactionStatus — статус записи журнала.
type TransactionStatus string

const (
	// StatusPending — сборка депозита начата и не завершена
	StatusPending TransactionStatus = "pending"
	// StatusCommitted — депозит собран и перенесён в выходной каталог
	StatusCommitted TransactionStatus = "committed"
	// StatusRolledBack — сборка отменена, промежуточные данные удалены
	StatusRolledBack TransactionStatus = "rolled_back"
)

// Entry — запись журнала. Хранится как JSON-файл {tx_id}.journal.json.
type Entry struct {
	// TransactionID — уникальный идентификатор записи (UUID v4)
	TransactionID string `json:"transaction_id"`

	// RunID — идентификатор прогона
	RunID string `json:"run_id"`

	// DepositID — идентификатор депозита
	DepositID string `json:"deposit_id"`

	// Status — текущий статус записи
	Status TransactionStatus `json:"status"`

	// CleanupPaths — пути, удаляемые при восстановлении после сбоя
	CleanupPaths []string `json:"cleanup_paths"`

	// StartedAt — время начала сборки (UTC)
	StartedAt time.Time `json:"started_at"`

	// CompletedAt — время завершения (UTC); nil для pending записей
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

const fileSuffix = ".journal.json"

// entryFileName возвращает имя файла записи.
func entryFileName(txID string) string {
	return txID + fileSuffix
}
