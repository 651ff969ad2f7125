// Пакет failure — типизированные ошибки обработки пакета депозитов.
//
// Классы ошибок:
//   - EmptyInstructionsError — в инструкциях нет строк данных, прогон прерывается
//   - ParseError / ParseErrors — ошибки разбора, собираются по всем строкам
//   - PreconditionError — депозит не проходит проверки и не попадает в конвейер
//   - InvalidDatamanagerError — частный случай PreconditionError
//   - ErrMultipleUsers — справочник вернул несколько учётных записей
//   - ActionError — ошибка действия, вызывает откат депозита
//   - DirectoryError — ошибка ввода-вывода справочника, фатальна для прогона
package failure

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rkruithof/easy-split-multi-deposit/internal/domain/model"
)

// ErrMultipleUsers — по идентификатору найдено более одной учётной записи.
// Отличается от InvalidDatamanagerError: это ошибка конфигурации справочника.
var ErrMultipleUsers = errors.New("multiple users with this id")

// EmptyInstructionsError — файл инструкций пуст или содержит только заголовок.
type EmptyInstructionsError struct {
	Path string
}

func (e *EmptyInstructionsError) Error() string {
	return fmt.Sprintf("instructions file %s contains no deposits", e.Path)
}

// ParseError — ошибка разбора строки инструкций. Row — номер строки (заголовок = 1).
type ParseError struct {
	Row    int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
}

// ParseErrors — все ошибки разбора одного файла инструкций.
type ParseErrors []*ParseError

func (e ParseErrors) Error() string {
	lines := make([]string, 0, len(e))
	for _, pe := range e {
		lines = append(lines, pe.Error())
	}
	return fmt.Sprintf("%d parse error(s): %s", len(e), strings.Join(lines, "; "))
}

// Sort упорядочивает ошибки по номеру строки, сохраняя порядок внутри строки.
func (e ParseErrors) Sort() {
	sort.SliceStable(e, func(i, j int) bool { return e[i].Row < e[j].Row })
}

// PreconditionError — депозит не удовлетворяет предусловию.
// Row — строка инструкций, к которой относится проблема (0, если не применимо).
type PreconditionError struct {
	DepositID model.DepositID
	Row       int
	Reason    string
	Cause     error
}

func (e *PreconditionError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("deposit %s (row %d): %s", e.DepositID, e.Row, e.Reason)
	}
	return fmt.Sprintf("deposit %s: %s", e.DepositID, e.Reason)
}

func (e *PreconditionError) Unwrap() error { return e.Cause }

// InvalidDatamanagerError — datamanager не может отвечать за депозит.
type InvalidDatamanagerError struct {
	DatamanagerID string
	Reason        string
}

func (e *InvalidDatamanagerError) Error() string {
	return fmt.Sprintf("invalid datamanager %q: %s", e.DatamanagerID, e.Reason)
}

// Причины InvalidDatamanagerError.
const (
	ReasonUnknownID    = "unknown id"
	ReasonNotActive    = "not an active user"
	ReasonNotArchivist = "not an archivist"
	ReasonNoEmail      = "no email address"
)

// ActionError — ошибка действия конвейера для конкретного депозита.
// Precondition == true, если отказали предусловия действия, а не выполнение.
type ActionError struct {
	DepositID    model.DepositID
	Action       string
	Precondition bool
	Cause        error
}

func (e *ActionError) Error() string {
	phase := "failed"
	if e.Precondition {
		phase = "precondition failed"
	}
	return fmt.Sprintf("deposit %s: action %s %s: %v", e.DepositID, e.Action, phase, e.Cause)
}

func (e *ActionError) Unwrap() error { return e.Cause }

// DirectoryError — ошибка обращения к справочнику пользователей.
type DirectoryError struct {
	DatamanagerID string
	Cause         error
}

func (e *DirectoryError) Error() string {
	return fmt.Sprintf("directory lookup of %q failed: %v", e.DatamanagerID, e.Cause)
}

func (e *DirectoryError) Unwrap() error { return e.Cause }

// IsFatal сообщает, прерывает ли ошибка весь прогон.
func IsFatal(err error) bool {
	var dirErr *DirectoryError
	return errors.As(err, &dirErr)
}
