// Пакет identity — проверка datamanager по справочнику пользователей
// и получение его адреса электронной почты.
//
// Политика (первое нарушение прерывает проверку):
//  1. нет учётных записей — InvalidDatamanager("unknown id")
//  2. больше одной записи — failure.ErrMultipleUsers
//  3. состояние не ACTIVE — InvalidDatamanager("not an active user")
//  4. нет роли ARCHIVIST — InvalidDatamanager("not an archivist")
//  5. пустой email — InvalidDatamanager("no email address")
//
// Ошибка ввода-вывода справочника возвращается как *failure.DirectoryError
// и прерывает весь прогон.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/rkruithof/easy-split-multi-deposit/internal/directory"
	"github.com/rkruithof/easy-split-multi-deposit/internal/domain/failure"
	"github.com/rkruithof/easy-split-multi-deposit/internal/metrics"
)

// Требования к учётной записи datamanager.
const (
	StateActive   = "ACTIVE"
	RoleArchivist = "ARCHIVIST"
)

// outcome — закэшированный результат проверки: email или ошибка политики.
type outcome struct {
	email string
	err   error
}

// Resolver проверяет datamanager и кэширует результаты на время прогона.
// Кэшируются успешные проверки и нарушения политики; ошибки
// ввода-вывода справочника не кэшируются. Потокобезопасен.
type Resolver struct {
	dir    directory.Directory
	cache  *expirable.LRU[string, outcome]
	logger *slog.Logger
}

// NewResolver создаёт Resolver.
// cacheSize — максимальное количество записей, ttl — время жизни записи.
func NewResolver(dir directory.Directory, cacheSize int, ttl time.Duration, logger *slog.Logger) *Resolver {
	return &Resolver{
		dir:    dir,
		cache:  expirable.NewLRU[string, outcome](cacheSize, nil, ttl),
		logger: logger.With(slog.String("component", "identity_resolver")),
	}
}

// Resolve возвращает email datamanager с идентификатором id.
func (r *Resolver) Resolve(ctx context.Context, id string) (string, error) {
	if cached, ok := r.cache.Get(id); ok {
		metrics.IdentityCacheHits.Inc()
		return cached.email, cached.err
	}
	metrics.IdentityCacheMisses.Inc()

	users, err := r.dir.Query(ctx, id)
	if err != nil {
		r.logger.Error("Ошибка обращения к справочнику пользователей",
			slog.String("datamanager", id),
			slog.String("error", err.Error()),
		)
		return "", &failure.DirectoryError{DatamanagerID: id, Cause: err}
	}

	email, err := applyPolicy(id, users)
	r.cache.Add(id, outcome{email: email, err: err})

	if err != nil {
		r.logger.Warn("Datamanager не прошёл проверку",
			slog.String("datamanager", id),
			slog.String("reason", err.Error()),
		)
		return "", err
	}

	r.logger.Debug("Datamanager проверен",
		slog.String("datamanager", id),
		slog.String("email", email),
	)
	return email, nil
}

func applyPolicy(id string, users []directory.AttributeSet) (string, error) {
	invalid := func(reason string) error {
		return &failure.InvalidDatamanagerError{DatamanagerID: id, Reason: reason}
	}

	switch {
	case len(users) == 0:
		return "", invalid(failure.ReasonUnknownID)
	case len(users) > 1:
		return "", fmt.Errorf("datamanager %q: %w (%d matches)", id, failure.ErrMultipleUsers, len(users))
	}

	user := users[0]
	switch {
	case user.State != StateActive:
		return "", invalid(failure.ReasonNotActive)
	case !user.HasRole(RoleArchivist):
		return "", invalid(failure.ReasonNotArchivist)
	case user.Email == "":
		return "", invalid(failure.ReasonNoEmail)
	}
	return user.Email, nil
}

// IsPolicyViolation сообщает, является ли ошибка нарушением политики
// (а не сбоем справочника).
func IsPolicyViolation(err error) bool {
	var invalid *failure.InvalidDatamanagerError
	return errors.As(err, &invalid) || errors.Is(err, failure.ErrMultipleUsers)
}
