// Пакет ldapdir — справочник пользователей на LDAP (go-ldap).
// Каждый запрос открывает отдельное соединение: справочник опрашивается
// редко (результаты кэширует identity.Resolver), а отдельное соединение
// безопасно при параллельной обработке депозитов.
package ldapdir

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/rkruithof/easy-split-multi-deposit/internal/directory"
)

// Атрибуты учётной записи в LDAP.
const (
	AttrUID   = "uid"
	AttrState = "dansState"
	AttrRoles = "easyRoles"
	AttrEmail = "mail"
)

// Config — параметры подключения к LDAP.
type Config struct {
	URL          string
	BindDN       string
	BindPassword string
	BaseDN       string
	// ObjectClass — класс объектов пользователей (по умолчанию easyUser)
	ObjectClass string
	// Timeout — таймаут соединения и поиска
	Timeout time.Duration
}

// Directory — справочник пользователей на LDAP.
// Реализует directory.Directory.
type Directory struct {
	cfg    Config
	logger *slog.Logger
}

// New создаёт LDAP-справочник.
func New(cfg Config, logger *slog.Logger) *Directory {
	if cfg.ObjectClass == "" {
		cfg.ObjectClass = "easyUser"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Directory{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "ldap_directory")),
	}
}

// Query ищет учётные записи по uid. Отмена ctx закрывает соединение и
// прерывает ожидающие bind и поиск.
func (d *Directory) Query(ctx context.Context, id string) ([]directory.AttributeSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dialer := &net.Dialer{Timeout: d.cfg.Timeout}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}
	conn, err := ldap.DialURL(d.cfg.URL, ldap.DialWithDialer(dialer))
	if err != nil {
		return nil, d.ioError(ctx, fmt.Errorf("подключение к LDAP %s: %w", d.cfg.URL, err))
	}
	defer conn.Close()
	conn.SetTimeout(d.cfg.Timeout)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if d.cfg.BindDN != "" {
		if err := conn.Bind(d.cfg.BindDN, d.cfg.BindPassword); err != nil {
			return nil, d.ioError(ctx, fmt.Errorf("аутентификация в LDAP как %s: %w", d.cfg.BindDN, err))
		}
	}

	res, err := conn.Search(d.searchRequest(id))
	if err != nil {
		return nil, d.ioError(ctx, fmt.Errorf("поиск пользователя %s в LDAP: %w", id, err))
	}

	d.logger.Debug("Пользователь найден в LDAP",
		slog.String("user_id", id),
		slog.Int("matches", len(res.Entries)),
	)
	return toAttributeSets(res.Entries), nil
}

// ioError отдаёт причину отмены, если ошибка вызвана закрытием
// соединения по ctx.
func (d *Directory) ioError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	return err
}

// searchRequest строит запрос поиска учётной записи по uid.
func (d *Directory) searchRequest(id string) *ldap.SearchRequest {
	filter := fmt.Sprintf("(&(objectClass=%s)(%s=%s))",
		ldap.EscapeFilter(d.cfg.ObjectClass), AttrUID, ldap.EscapeFilter(id))

	return ldap.NewSearchRequest(
		d.cfg.BaseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0, 0, false,
		filter,
		[]string{AttrState, AttrRoles, AttrEmail},
		nil,
	)
}

// toAttributeSets переводит записи LDAP в атрибуты справочника.
func toAttributeSets(entries []*ldap.Entry) []directory.AttributeSet {
	result := make([]directory.AttributeSet, 0, len(entries))
	for _, e := range entries {
		result = append(result, directory.AttributeSet{
			State: e.GetAttributeValue(AttrState),
			Roles: e.GetAttributeValues(AttrRoles),
			Email: e.GetAttributeValue(AttrEmail),
		})
	}
	return result
}
