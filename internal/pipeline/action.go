// Пакет pipeline — упорядоченные обратимые действия сборки депозита
// и движок, который их выполняет.
//
// Движок выполняет действия по порядку. Если у действия i отказали
// предусловия или выполнение, откатываются действия i-1..0 в обратном
// порядке, каждое ровно один раз. Ошибка отката не останавливает
// остальные откаты, но переводит депозит в состояние fatal.
package pipeline

import "context"

// Action — один обратимый шаг сборки депозита.
//
// Execute при ошибке сам убирает частично сделанную работу.
// Rollback отменяет результат успешного Execute и вызывается не более
// одного раза.
type Action interface {
	Name() string
	CheckPreconditions(ctx context.Context) error
	Execute(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Имена действий.
const (
	ActionCreateStaging        = "create-staging"
	ActionCopyPayload          = "copy-payload"
	ActionWriteDatasetMetadata = "write-dataset-metadata"
	ActionWriteFileMetadata    = "write-file-metadata"
	ActionWriteBag             = "write-bag"
	ActionWriteProperties      = "write-properties"
	ActionSetPermissions       = "set-permissions"
	ActionMoveToOutput         = "move-to-output"
)
