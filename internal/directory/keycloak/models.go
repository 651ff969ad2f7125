// Пакет keycloak — справочник пользователей поверх Keycloak Admin REST API.
// models.go — модели данных Keycloak.
package keycloak

// TokenResponse — ответ на запрос токена через Client Credentials flow.
type TokenResponse struct {
	AccessToken string `json:"access_token"` //nolint:gosec // G117: структура токена OAuth2
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// KeycloakUser — пользователь в Keycloak.
type KeycloakUser struct { //nolint:revive // stuttering допустим — внешний API Keycloak
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Enabled  bool   `json:"enabled"`
	// Attributes — пользовательские атрибуты; Keycloak хранит каждое значение списком
	Attributes map[string][]string `json:"attributes,omitempty"`
}

// Attribute возвращает первое значение атрибута или пустую строку.
func (u *KeycloakUser) Attribute(name string) string {
	if vals := u.Attributes[name]; len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// RoleRepresentation — роль realm.
type RoleRepresentation struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
