package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// InstructionsFileName — имя файла инструкций в каталоге пакета.
const InstructionsFileName = "instructions.csv"

// FilePermissions — права и группа, применяемые к содержимому депозита.
type FilePermissions struct {
	// Mode — права на файлы и каталоги
	Mode os.FileMode
	// Group — имя группы-владельца; пустая строка — группу не менять
	Group string
}

// Settings — неизменяемые параметры прогона. Создаётся один раз
// через NewSettings и передаётся по указателю всем компонентам.
type Settings struct {
	multiDepositDir  string
	stagingDir       string
	outputDepositDir string
	datamanagerID    string
	depositor        string
	permissions      FilePermissions
	acceptedFormats  []string
	accepted         map[string]bool
}

// SettingsParams — исходные значения для NewSettings.
type SettingsParams struct {
	MultiDepositDir  string
	StagingDir       string
	OutputDepositDir string
	DatamanagerID    string
	Depositor        string
	Permissions      FilePermissions
	AcceptedFormats  []string
}

// NewSettings проверяет параметры и создаёт Settings.
// Каталоги приводятся к абсолютным путям; каталог пакета должен существовать.
func NewSettings(p SettingsParams) (*Settings, error) {
	if p.MultiDepositDir == "" {
		return nil, fmt.Errorf("каталог пакета депозитов не задан")
	}
	if p.StagingDir == "" || p.OutputDepositDir == "" {
		return nil, fmt.Errorf("каталоги staging и output обязательны")
	}
	if strings.TrimSpace(p.DatamanagerID) == "" {
		return nil, fmt.Errorf("идентификатор datamanager не задан")
	}

	mdDir, err := filepath.Abs(p.MultiDepositDir)
	if err != nil {
		return nil, fmt.Errorf("некорректный каталог пакета %s: %w", p.MultiDepositDir, err)
	}
	info, err := os.Stat(mdDir)
	if err != nil {
		return nil, fmt.Errorf("каталог пакета %s недоступен: %w", mdDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s не является каталогом", mdDir)
	}

	staging, err := filepath.Abs(p.StagingDir)
	if err != nil {
		return nil, fmt.Errorf("некорректный каталог staging %s: %w", p.StagingDir, err)
	}
	output, err := filepath.Abs(p.OutputDepositDir)
	if err != nil {
		return nil, fmt.Errorf("некорректный выходной каталог %s: %w", p.OutputDepositDir, err)
	}
	if staging == output {
		return nil, fmt.Errorf("каталоги staging и output совпадают: %s", staging)
	}

	s := &Settings{
		multiDepositDir:  mdDir,
		stagingDir:       staging,
		outputDepositDir: output,
		datamanagerID:    strings.TrimSpace(p.DatamanagerID),
		depositor:        strings.TrimSpace(p.Depositor),
		permissions:      p.Permissions,
		accepted:         make(map[string]bool),
	}
	if s.permissions.Mode == 0 {
		s.permissions.Mode = 0o770
	}
	if s.permissions.Mode&ownerAccess != ownerAccess {
		return nil, fmt.Errorf("права %o: владелец должен иметь rwx", s.permissions.Mode)
	}
	for _, f := range p.AcceptedFormats {
		f = strings.ToLower(strings.TrimSpace(f))
		if f != "" && !s.accepted[f] {
			s.accepted[f] = true
			s.acceptedFormats = append(s.acceptedFormats, f)
		}
	}
	return s, nil
}

// Settings строит Settings прогона для каталога пакета.
func (c *Config) Settings(multiDepositDir string) (*Settings, error) {
	mode, err := ParseFileMode(c.FilePermissions)
	if err != nil {
		return nil, fmt.Errorf("MD_FILE_PERMISSIONS: %w", err)
	}
	return NewSettings(SettingsParams{
		MultiDepositDir:  multiDepositDir,
		StagingDir:       c.StagingDir,
		OutputDepositDir: c.OutputDir,
		DatamanagerID:    c.Datamanager,
		Depositor:        c.Depositor,
		Permissions:      FilePermissions{Mode: mode, Group: c.FileGroup},
		AcceptedFormats:  c.AcceptedFormats,
	})
}

// MultiDepositDir возвращает абсолютный путь к каталогу пакета.
func (s *Settings) MultiDepositDir() string { return s.multiDepositDir }

// StagingDir возвращает каталог, в котором собираются депозиты.
func (s *Settings) StagingDir() string { return s.stagingDir }

// OutputDepositDir возвращает каталог готовых депозитов.
func (s *Settings) OutputDepositDir() string { return s.outputDepositDir }

// DatamanagerID возвращает идентификатор datamanager прогона.
func (s *Settings) DatamanagerID() string { return s.datamanagerID }

// Depositor возвращает depositor по умолчанию для строк без DEPOSITOR_ID.
func (s *Settings) Depositor() string { return s.depositor }

// Permissions возвращает права и группу содержимого депозита.
func (s *Settings) Permissions() FilePermissions { return s.permissions }

// InstructionsPath возвращает путь к файлу инструкций пакета.
func (s *Settings) InstructionsPath() string {
	return filepath.Join(s.multiDepositDir, InstructionsFileName)
}

// AcceptedFormats возвращает копию списка допустимых MIME-типов.
func (s *Settings) AcceptedFormats() []string {
	out := make([]string, len(s.acceptedFormats))
	copy(out, s.acceptedFormats)
	return out
}

// Accepts сообщает, допустим ли MIME-тип. Пустой список допускает всё.
func (s *Settings) Accepts(mimeType string) bool {
	if len(s.accepted) == 0 {
		return true
	}
	return s.accepted[strings.ToLower(mimeType)]
}

// ownerAccess — права владельца, без которых депозит нельзя обойти,
// проверить и откатить.
const ownerAccess os.FileMode = 0o700

// ParseFileMode разбирает права в восьмеричной ("0770", "750")
// или символьной ("rwxrwx---") записи. Владелец должен иметь rwx.
func ParseFileMode(val string) (os.FileMode, error) {
	mode, err := parseFileMode(val)
	if err != nil {
		return 0, err
	}
	if mode&ownerAccess != ownerAccess {
		return 0, fmt.Errorf("некорректные права %q: владелец должен иметь rwx", val)
	}
	return mode, nil
}

func parseFileMode(val string) (os.FileMode, error) {
	val = strings.TrimSpace(val)
	if len(val) == 9 && strings.Trim(val, "rwx-") == "" {
		var mode os.FileMode
		const flags = "rwxrwxrwx"
		for i := 0; i < 9; i++ {
			switch val[i] {
			case flags[i]:
				mode |= 1 << uint(8-i)
			case '-':
			default:
				return 0, fmt.Errorf("некорректные права %q", val)
			}
		}
		return mode, nil
	}

	n, err := strconv.ParseUint(val, 8, 32)
	if err != nil || n == 0 || n > 0o777 {
		return 0, fmt.Errorf("некорректные права %q: ожидается восьмеричное значение до 0777 или rwxrwx---", val)
	}
	return os.FileMode(n), nil
}
