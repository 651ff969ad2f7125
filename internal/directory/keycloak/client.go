// client.go — клиент Keycloak Admin REST API только для чтения:
// поиск пользователя по username и его роли realm.
// Авторизация — service account (Client Credentials flow); токен
// кэшируется и обновляется заранее, а при ответе 401 сбрасывается и
// запрос повторяется один раз.
package keycloak

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// tokenRefreshMargin — запас до истечения токена, после которого он обновляется.
const tokenRefreshMargin = 30 * time.Second

// maxErrorBody — сколько байт тела ответа сохраняется в APIError.
const maxErrorBody = 512

// APIError — ответ Keycloak с неуспешным статусом.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: Keycloak вернул статус %d: %s", e.Op, e.Status, e.Body)
}

// cachedToken — access token и момент его истечения.
type cachedToken struct {
	value  string
	expiry time.Time
}

func (t cachedToken) usable(now time.Time) bool {
	return t.value != "" && now.Add(tokenRefreshMargin).Before(t.expiry)
}

// Client — клиент Keycloak Admin REST API. Потокобезопасен.
type Client struct {
	tokenURL     string
	adminURL     string
	clientID     string
	clientSecret string

	httpClient *http.Client
	logger     *slog.Logger

	mu    sync.Mutex
	token cachedToken
}

// New создаёт клиент для realm. httpClient задаёт таймаут и TLS;
// nil — клиент с таймаутом 30s.
func New(baseURL, realm, clientID, clientSecret string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	base := strings.TrimRight(baseURL, "/")
	realmPath := url.PathEscape(realm)

	return &Client{
		tokenURL:     base + "/realms/" + realmPath + "/protocol/openid-connect/token",
		adminURL:     base + "/admin/realms/" + realmPath,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   httpClient,
		logger:       logger.With(slog.String("component", "keycloak_client")),
	}
}

// FindUsers возвращает пользователей с точным совпадением username.
// Keycloak сравнивает username без учёта регистра, поэтому результат
// дополнительно фильтруется.
func (c *Client) FindUsers(ctx context.Context, username string) ([]KeycloakUser, error) {
	query := url.Values{
		"username":            {username},
		"exact":               {"true"},
		"briefRepresentation": {"false"},
	}

	var users []KeycloakUser
	if err := c.getJSON(ctx, "FindUsers", "/users?"+query.Encode(), &users); err != nil {
		return nil, err
	}

	exact := users[:0]
	for _, u := range users {
		if strings.EqualFold(u.Username, username) {
			exact = append(exact, u)
		}
	}
	return exact, nil
}

// GetUserRealmRoles возвращает роли realm, назначенные пользователю напрямую.
func (c *Client) GetUserRealmRoles(ctx context.Context, userID string) ([]RoleRepresentation, error) {
	var roles []RoleRepresentation
	path := "/users/" + url.PathEscape(userID) + "/role-mappings/realm"
	if err := c.getJSON(ctx, "GetUserRealmRoles", path, &roles); err != nil {
		return nil, err
	}
	return roles, nil
}

// getJSON выполняет авторизованный GET и декодирует ответ в target.
// Ответ 401 сбрасывает кэш токена; запрос повторяется один раз.
func (c *Client) getJSON(ctx context.Context, op, path string, target any) error {
	for attempt := 0; ; attempt++ {
		token, err := c.accessToken(ctx)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		err = c.get(ctx, op, path, token, target)
		var apiErr *APIError
		if attempt == 0 && errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			c.logger.Debug("Keycloak отклонил токен, повторный запрос", slog.String("op", op))
			c.invalidate(token)
			continue
		}
		return err
	}
}

func (c *Client) get(ctx context.Context, op, path, token string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.adminURL+path, nil)
	if err != nil {
		return fmt.Errorf("%s: создание запроса: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: запрос к Keycloak: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return newAPIError(op, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("%s: декодирование ответа Keycloak: %w", op, err)
	}
	return nil
}

// accessToken возвращает действующий токен, запрашивая новый при необходимости.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token.usable(time.Now()) {
		return c.token.value, nil
	}

	resp, err := c.requestToken(ctx)
	if err != nil {
		return "", err
	}
	c.token = cachedToken{
		value:  resp.AccessToken,
		expiry: time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}

	c.logger.Debug("Keycloak токен обновлён", slog.Time("expires_at", c.token.expiry))
	return c.token.value, nil
}

// invalidate сбрасывает кэш, если в нём всё ещё отклонённый токен.
func (c *Client) invalidate(rejected string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token.value == rejected {
		c.token = cachedToken{}
	}
}

// requestToken выполняет Client Credentials flow.
func (c *Client) requestToken(ctx context.Context) (*TokenResponse, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("создание запроса токена: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос токена Keycloak: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newAPIError("token", resp)
	}

	var token TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("декодирование токена Keycloak: %w", err)
	}
	if token.AccessToken == "" {
		return nil, errors.New("Keycloak вернул пустой access token")
	}
	return &token, nil
}

func newAPIError(op string, resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &APIError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
