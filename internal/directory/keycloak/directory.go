package keycloak

import (
	"context"
	"log/slog"

	"github.com/rkruithof/easy-split-multi-deposit/internal/directory"
)

// StateAttribute — пользовательский атрибут Keycloak с состоянием учётной записи.
const StateAttribute = "state"

// Состояния, выводимые из флага enabled, если атрибут state не задан.
const (
	stateActive  = "ACTIVE"
	stateBlocked = "BLOCKED"
)

// Directory — справочник пользователей на Keycloak.
// Реализует directory.Directory.
type Directory struct {
	client *Client
	logger *slog.Logger
}

// NewDirectory создаёт справочник поверх клиента Keycloak.
func NewDirectory(client *Client, logger *slog.Logger) *Directory {
	return &Directory{
		client: client,
		logger: logger.With(slog.String("component", "keycloak_directory")),
	}
}

// Query ищет пользователей по username и собирает их атрибуты:
// состояние из атрибута state (или флага enabled), роли realm, email.
func (d *Directory) Query(ctx context.Context, id string) ([]directory.AttributeSet, error) {
	users, err := d.client.FindUsers(ctx, id)
	if err != nil {
		return nil, err
	}

	result := make([]directory.AttributeSet, 0, len(users))
	for i := range users {
		u := &users[i]

		roles, err := d.client.GetUserRealmRoles(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(roles))
		for _, r := range roles {
			names = append(names, r.Name)
		}

		state := u.Attribute(StateAttribute)
		if state == "" {
			state = stateBlocked
			if u.Enabled {
				state = stateActive
			}
		}

		result = append(result, directory.AttributeSet{
			State: state,
			Roles: names,
			Email: u.Email,
		})
	}

	d.logger.Debug("Пользователь найден в Keycloak",
		slog.String("user_id", id),
		slog.Int("matches", len(result)),
	)
	return result, nil
}
