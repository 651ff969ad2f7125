// Пакет directory — контракт справочника пользователей, по которому
// проверяется datamanager, и статическая реализация для автономных
// прогонов.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// AttributeSet — атрибуты одной учётной записи справочника.
type AttributeSet struct {
	// State — состояние учётной записи (ACTIVE, BLOCKED, ...)
	State string `json:"state"`
	// Roles — роли учётной записи (ARCHIVIST, USER, ...)
	Roles []string `json:"roles"`
	// Email — адрес электронной почты; пустой, если не задан
	Email string `json:"email"`
}

// HasRole сообщает, есть ли у учётной записи роль.
func (a AttributeSet) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Directory — справочник пользователей. Query возвращает все учётные
// записи с данным идентификатором; ошибка означает сбой ввода-вывода.
type Directory interface {
	Query(ctx context.Context, id string) ([]AttributeSet, error)
}

// Static — справочник в памяти. Используется при MD_DIRECTORY=file
// и в тестах. Потокобезопасен.
type Static struct {
	mu    sync.RWMutex
	users map[string][]AttributeSet
}

// NewStatic создаёт пустой статический справочник.
func NewStatic() *Static {
	return &Static{users: make(map[string][]AttributeSet)}
}

// Add добавляет учётную запись. Повторный вызов с тем же id добавляет
// ещё одну запись (так моделируется неоднозначный справочник).
func (s *Static) Add(id string, attrs AttributeSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = append(s.users[id], attrs)
}

// Query возвращает копии учётных записей с данным id.
func (s *Static) Query(_ context.Context, id string) ([]AttributeSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	found := s.users[id]
	out := make([]AttributeSet, len(found))
	copy(out, found)
	return out, nil
}

// fileEntry — запись JSON-файла справочника.
type fileEntry struct {
	ID string `json:"id"`
	AttributeSet
}

// LoadFile читает статический справочник из JSON-файла вида
// [{"id": "dm01", "state": "ACTIVE", "roles": ["ARCHIVIST"], "email": "dm@example.org"}].
func LoadFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать справочник %s: %w", path, err)
	}

	var entries []fileEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("ошибка разбора справочника %s: %w", path, err)
	}

	s := NewStatic()
	for i, e := range entries {
		if e.ID == "" {
			return nil, fmt.Errorf("справочник %s: запись %d без id", path, i)
		}
		s.Add(e.ID, e.AttributeSet)
	}
	return s, nil
}
