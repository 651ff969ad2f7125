// Пакет state — конечный автомат состояния одного депозита в конвейере.
//
// Жизненный цикл:
//   - pending → running(action) → running(next action) → ... → succeeded
//   - running → rolled_back — действие отказало, выполненные действия откачены
//   - running → fatal — откат хотя бы одного действия завершился ошибкой
//
// Потокобезопасен через sync.RWMutex.
package state

import (
	"fmt"
	"sync"
	"time"
)

// State — состояние депозита.
type State string

const (
	// Pending — депозит ожидает обработки
	Pending State = "pending"
	// Running — выполняется действие конвейера
	Running State = "running"
	// Succeeded — все действия выполнены, депозит перемещён в выходной каталог
	Succeeded State = "succeeded"
	// RolledBack — действие отказало, выполненные действия откачены
	RolledBack State = "rolled_back"
	// Fatal — откат не завершился, в staging мог остаться мусор
	Fatal State = "fatal"
)

// TransitionRecord — запись о переходе между состояниями.
type TransitionRecord struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Action    string    `json:"action,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// validTransitions — матрица допустимых переходов.
// running → running означает переход к следующему действию.
var validTransitions = map[State]map[State]bool{
	Pending:    {Running: true},
	Running:    {Running: true, Succeeded: true, RolledBack: true, Fatal: true},
	Succeeded:  {},
	RolledBack: {},
	Fatal:      {},
}

// StateMachine — автомат состояния депозита.
type StateMachine struct {
	mu      sync.RWMutex
	current State
	action  string
	history []TransitionRecord
}

// NewStateMachine создаёт автомат в начальном состоянии.
// Возвращает ошибку, если состояние невалидное.
func NewStateMachine(initial State) (*StateMachine, error) {
	if _, ok := validTransitions[initial]; !ok {
		return nil, fmt.Errorf("недопустимое начальное состояние: %q", initial)
	}
	return &StateMachine{
		current: initial,
		history: make([]TransitionRecord, 0),
	}, nil
}

// Current возвращает текущее состояние.
func (sm *StateMachine) Current() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// Action возвращает имя последнего начатого действия.
func (sm *StateMachine) Action() string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.action
}

// IsTerminal сообщает, завершена ли обработка депозита.
func (sm *StateMachine) IsTerminal() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(validTransitions[sm.current]) == 0
}

// Begin переводит автомат в running для указанного действия.
func (sm *StateMachine) Begin(action string) error {
	return sm.transition(Running, action)
}

// Finish переводит автомат в конечное состояние.
func (sm *StateMachine) Finish(target State) error {
	if target == Running || target == Pending {
		return &TransitionError{From: sm.Current(), To: target}
	}
	return sm.transition(target, "")
}

func (sm *StateMachine) transition(target State, action string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !validTransitions[sm.current][target] {
		return &TransitionError{From: sm.current, To: target}
	}

	sm.history = append(sm.history, TransitionRecord{
		From:      sm.current,
		To:        target,
		Action:    action,
		Timestamp: time.Now().UTC(),
	})
	sm.current = target
	if action != "" {
		sm.action = action
	}
	return nil
}

// History возвращает историю переходов (копия).
func (sm *StateMachine) History() []TransitionRecord {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	result := make([]TransitionRecord, len(sm.history))
	copy(result, sm.history)
	return result
}

// TransitionError — недопустимый переход между состояниями.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("переход %s → %s недопустим", e.From, e.To)
}
