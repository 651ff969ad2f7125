// Пакет config — загрузка и валидация конфигурации multideposit
// из переменных окружения MD_*. Флаги командной строки накладываются
// поверх в cmd/multideposit.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Допустимые реализации справочника пользователей (MD_DIRECTORY).
const (
	DirectoryLDAP     = "ldap"
	DirectoryKeycloak = "keycloak"
	DirectoryFile     = "file"
)

// Config содержит все параметры конфигурации прогона.
type Config struct {
	// Каталог сборки депозитов (staging)
	StagingDir string
	// Выходной каталог готовых депозитов
	OutputDir string
	// Идентификатор datamanager прогона
	Datamanager string
	// Депозитор по умолчанию, если DEPOSITOR_ID пуст
	Depositor string
	// Права на файлы и каталоги депозита, восьмеричные ("0770") или символьные ("rwxrwx---")
	FilePermissions string
	// Группа-владелец файлов депозита (опционально)
	FileGroup string
	// Допустимые MIME-типы; пустой список — допустимы все
	AcceptedFormats []string
	// Число депозитов, обрабатываемых одновременно
	Parallelism int
	// Каталог журнала прогонов; по умолчанию <StagingDir>/.journal
	JournalDir string
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// Реализация справочника пользователей: ldap, keycloak, file
	Directory string
	// Параметры LDAP
	LDAPURL          string
	LDAPBindDN       string
	LDAPBindPassword string
	LDAPBaseDN       string
	// Параметры Keycloak Admin API
	KeycloakURL          string
	KeycloakRealm        string
	KeycloakClientID     string
	KeycloakClientSecret string
	// JSON-файл со статическим списком пользователей (MD_DIRECTORY=file)
	DirectoryFile string
	// Время жизни записей кэша справочника
	IdentityCacheTTL time.Duration
	// Размер кэша справочника
	IdentityCacheSize int
	// Таймаут HTTP-запросов к Keycloak
	HTTPTimeout time.Duration

	// URL Prometheus Pushgateway (опционально)
	PushgatewayURL string
	// DSN PostgreSQL для сохранения отчётов (опционально)
	ReportDSN string
}

// Load загружает конфигурацию из переменных окружения и проверяет
// формат значений. Обязательность полей проверяет Validate после
// наложения флагов.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	cfg.StagingDir = getEnvDefault("MD_STAGING_DIR", "")
	cfg.OutputDir = getEnvDefault("MD_OUTPUT_DIR", "")
	cfg.Datamanager = getEnvDefault("MD_DATAMANAGER", "")
	cfg.Depositor = getEnvDefault("MD_DEPOSITOR", "")

	// MD_FILE_PERMISSIONS — права на содержимое депозита (по умолчанию 0770)
	cfg.FilePermissions = getEnvDefault("MD_FILE_PERMISSIONS", "0770")
	if _, err := ParseFileMode(cfg.FilePermissions); err != nil {
		return nil, fmt.Errorf("MD_FILE_PERMISSIONS: %w", err)
	}
	cfg.FileGroup = getEnvDefault("MD_FILE_GROUP", "")

	// MD_ACCEPTED_FORMATS — список MIME-типов через запятую
	cfg.AcceptedFormats = splitList(getEnvDefault("MD_ACCEPTED_FORMATS", ""))

	// MD_PARALLELISM — число одновременно обрабатываемых депозитов (по умолчанию 1)
	cfg.Parallelism, err = getEnvInt("MD_PARALLELISM", 1)
	if err != nil {
		return nil, fmt.Errorf("MD_PARALLELISM: %w", err)
	}
	if cfg.Parallelism < 1 {
		return nil, fmt.Errorf("MD_PARALLELISM: значение должно быть положительным, получено %d", cfg.Parallelism)
	}

	cfg.JournalDir = getEnvDefault("MD_JOURNAL_DIR", "")

	// MD_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("MD_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("MD_LOG_LEVEL: %w", err)
	}

	// MD_LOG_FORMAT — формат логов (по умолчанию text: утилита запускается из консоли)
	cfg.LogFormat = getEnvDefault("MD_LOG_FORMAT", "text")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("MD_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// MD_DIRECTORY — реализация справочника (по умолчанию ldap)
	cfg.Directory = getEnvDefault("MD_DIRECTORY", DirectoryLDAP)
	switch cfg.Directory {
	case DirectoryLDAP, DirectoryKeycloak, DirectoryFile:
	default:
		return nil, fmt.Errorf("MD_DIRECTORY: недопустимое значение %q, допустимые: ldap, keycloak, file", cfg.Directory)
	}

	cfg.LDAPURL = getEnvDefault("MD_LDAP_URL", "ldap://localhost:389")
	cfg.LDAPBindDN = getEnvDefault("MD_LDAP_BIND_DN", "")
	cfg.LDAPBindPassword = getEnvDefault("MD_LDAP_BIND_PASSWORD", "")
	cfg.LDAPBaseDN = getEnvDefault("MD_LDAP_BASE_DN", "ou=users,ou=easy,dc=dans,dc=knaw,dc=nl")

	cfg.KeycloakURL = getEnvDefault("MD_KEYCLOAK_URL", "")
	cfg.KeycloakRealm = getEnvDefault("MD_KEYCLOAK_REALM", "")
	cfg.KeycloakClientID = getEnvDefault("MD_KEYCLOAK_CLIENT_ID", "")
	cfg.KeycloakClientSecret = getEnvDefault("MD_KEYCLOAK_CLIENT_SECRET", "")

	cfg.DirectoryFile = getEnvDefault("MD_DIRECTORY_FILE", "")

	// MD_IDENTITY_CACHE_TTL — время жизни кэша справочника (по умолчанию 1h)
	cfg.IdentityCacheTTL, err = getEnvDuration("MD_IDENTITY_CACHE_TTL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("MD_IDENTITY_CACHE_TTL: %w", err)
	}

	cfg.IdentityCacheSize, err = getEnvInt("MD_IDENTITY_CACHE_SIZE", 128)
	if err != nil {
		return nil, fmt.Errorf("MD_IDENTITY_CACHE_SIZE: %w", err)
	}
	if cfg.IdentityCacheSize < 1 {
		return nil, fmt.Errorf("MD_IDENTITY_CACHE_SIZE: значение должно быть положительным, получено %d", cfg.IdentityCacheSize)
	}

	// MD_HTTP_TIMEOUT — таймаут запросов к Keycloak (по умолчанию 10s)
	cfg.HTTPTimeout, err = getEnvDuration("MD_HTTP_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("MD_HTTP_TIMEOUT: %w", err)
	}

	cfg.PushgatewayURL = getEnvDefault("MD_PUSHGATEWAY_URL", "")
	cfg.ReportDSN = getEnvDefault("MD_REPORT_DSN", "")

	return cfg, nil
}

// Validate проверяет обязательные поля после наложения флагов.
func (c *Config) Validate() error {
	if c.StagingDir == "" {
		return fmt.Errorf("MD_STAGING_DIR: обязательный параметр не задан")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("MD_OUTPUT_DIR: обязательный параметр не задан")
	}
	if c.Datamanager == "" {
		return fmt.Errorf("MD_DATAMANAGER: обязательный параметр не задан")
	}
	if _, err := ParseFileMode(c.FilePermissions); err != nil {
		return fmt.Errorf("MD_FILE_PERMISSIONS: %w", err)
	}
	if c.Parallelism < 1 {
		return fmt.Errorf("MD_PARALLELISM: значение должно быть положительным, получено %d", c.Parallelism)
	}

	switch c.Directory {
	case DirectoryLDAP:
		if c.LDAPURL == "" || c.LDAPBaseDN == "" {
			return fmt.Errorf("MD_LDAP_URL и MD_LDAP_BASE_DN обязательны для MD_DIRECTORY=ldap")
		}
	case DirectoryKeycloak:
		if c.KeycloakURL == "" || c.KeycloakRealm == "" || c.KeycloakClientID == "" || c.KeycloakClientSecret == "" {
			return fmt.Errorf("MD_KEYCLOAK_URL, MD_KEYCLOAK_REALM, MD_KEYCLOAK_CLIENT_ID и MD_KEYCLOAK_CLIENT_SECRET обязательны для MD_DIRECTORY=keycloak")
		}
	case DirectoryFile:
		if c.DirectoryFile == "" {
			return fmt.Errorf("MD_DIRECTORY_FILE обязателен для MD_DIRECTORY=file")
		}
	default:
		return fmt.Errorf("MD_DIRECTORY: недопустимое значение %q", c.Directory)
	}
	return nil
}

// EffectiveJournalDir возвращает каталог журнала с учётом значения по умолчанию.
func (c *Config) EffectiveJournalDir() string {
	if c.JournalDir != "" {
		return c.JournalDir
	}
	return filepath.Join(c.StagingDir, ".journal")
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
// Логи пишутся в stderr: stdout занят итоговым отчётом прогона.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// ParseLogLevel — экспортируемая обёртка для флага --log-level.
func ParseLogLevel(level string) (slog.Level, error) {
	return parseLogLevel(level)
}

// splitList разбирает список через запятую, отбрасывая пустые элементы.
func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
