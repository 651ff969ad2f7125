// Пакет model — доменные модели multi-deposit: депозит (Dataset),
// описание файлов полезной нагрузки и категории доступа.
//
// Dataset создаётся парсером и далее используется только для чтения
// валидатором и конвейером действий.
package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DepositID — идентификатор депозита из колонки DATASET.
// Становится сегментом пути, поэтому допускает только [A-Za-z0-9._-].
type DepositID string

var depositIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ErrInvalidDepositID — идентификатор депозита не может быть сегментом пути.
var ErrInvalidDepositID = errors.New("invalid deposit id")

// ParseDepositID нормализует и проверяет идентификатор депозита.
func ParseDepositID(raw string) (DepositID, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDepositID)
	}
	if id == "." || id == ".." || !depositIDPattern.MatchString(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidDepositID, id)
	}
	return DepositID(id), nil
}

// DateLayout — формат дат в инструкциях (DDM_CREATED, DDM_AVAILABLE).
const DateLayout = "2006-01-02"

// Dataset — разобранное представление одного депозита.
type Dataset struct {
	// ID — идентификатор депозита
	ID DepositID
	// Rows — номера строк инструкций, из которых собран депозит (по возрастанию)
	Rows []int

	DepositorID string
	// DatamanagerID — назначенный на прогон datamanager
	DatamanagerID string

	Title       string
	Description string
	Creator     string
	Audience    string
	// Created — дата создания; нулевое значение, если колонка не заполнена
	Created time.Time
	// Available — дата доступности; nil означает «дата прогона»
	Available *time.Time
	// AccessRights — категория доступа датасета; nil, если не указана
	AccessRights *DatasetAccess

	SpringfieldUser       string
	SpringfieldCollection string

	// Files — файлы полезной нагрузки в порядке первого появления
	Files []*FileSpec
}

// FirstRow возвращает номер первой строки депозита.
func (d *Dataset) FirstRow() int {
	if len(d.Rows) == 0 {
		return 0
	}
	return d.Rows[0]
}

// HasAudioVisual сообщает, есть ли в депозите аудио- или видеофайлы.
func (d *Dataset) HasAudioVisual() bool {
	for _, f := range d.Files {
		if f.IsAudioVisual() {
			return true
		}
	}
	return false
}

// DefaultFileAccess возвращает категорию доступа файлов по умолчанию.
// ok == false, если у датасета нет категории доступа.
func (d *Dataset) DefaultFileAccess() (FileAccess, bool) {
	if d.AccessRights == nil {
		return "", false
	}
	return d.AccessRights.DefaultFileAccess(), true
}

// PayloadPaths возвращает все относительные пути полезной нагрузки:
// файлы и их субтитры, без повторов, в порядке появления.
func (d *Dataset) PayloadPaths() []string {
	seen := make(map[string]bool)
	var paths []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}
	for _, f := range d.Files {
		add(f.Path)
		for _, s := range f.Subtitles {
			add(s.Path)
		}
	}
	return paths
}
