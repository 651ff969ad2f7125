package keycloak

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// setupMockKeycloak создаёт mock HTTP-сервер Keycloak.
// tokenHandler обрабатывает запросы на получение токена.
// adminHandler обрабатывает запросы к Admin REST API.
func setupMockKeycloak(t *testing.T, tokenHandler, adminHandler http.HandlerFunc) *Client {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc("/realms/archive/protocol/openid-connect/token", func(w http.ResponseWriter, r *http.Request) {
		if tokenHandler != nil {
			tokenHandler(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(TokenResponse{
			AccessToken: "test-access-token",
			TokenType:   "Bearer",
			ExpiresIn:   300,
		})
	})

	mux.HandleFunc("/admin/realms/archive/", func(w http.ResponseWriter, r *http.Request) {
		if adminHandler != nil {
			adminHandler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return New(server.URL, "archive", "multideposit", "test-secret", server.Client(), testLogger())
}

// usersHandler отвечает на поиск пользователей и запрос их ролей.
func usersHandler(t *testing.T, users []KeycloakUser, roles map[string][]RoleRepresentation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-access-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")

		path := strings.TrimPrefix(r.URL.Path, "/admin/realms/archive")
		switch {
		case path == "/users":
			if r.URL.Query().Get("exact") != "true" {
				t.Errorf("ожидался параметр exact=true")
			}
			json.NewEncoder(w).Encode(users)
		case strings.HasSuffix(path, "/role-mappings/realm"):
			id := strings.TrimSuffix(strings.TrimPrefix(path, "/users/"), "/role-mappings/realm")
			json.NewEncoder(w).Encode(roles[id])
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

// TestClient_TokenCaching проверяет кэширование токена.
func TestClient_TokenCaching(t *testing.T) {
	var tokenRequests atomic.Int32

	client := setupMockKeycloak(t,
		func(w http.ResponseWriter, r *http.Request) {
			tokenRequests.Add(1)
			if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "client_credentials" {
				t.Errorf("ожидался grant_type=client_credentials")
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(TokenResponse{AccessToken: "test-access-token", ExpiresIn: 300})
		},
		usersHandler(t, []KeycloakUser{}, nil),
	)

	for i := 0; i < 3; i++ {
		if _, err := client.FindUsers(context.Background(), "dm01"); err != nil {
			t.Fatalf("FindUsers: %v", err)
		}
	}

	if tokenRequests.Load() != 1 {
		t.Errorf("ожидался 1 запрос токена, получено %d", tokenRequests.Load())
	}
}

// TestClient_TokenError проверяет ошибку получения токена.
func TestClient_TokenError(t *testing.T) {
	client := setupMockKeycloak(t,
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"invalid_client"}`))
		},
		nil,
	)

	if _, err := client.FindUsers(context.Background(), "dm01"); err == nil {
		t.Fatal("ожидалась ошибка при неверных credentials")
	}
}

// TestClient_RetryOnUnauthorized проверяет повторный запрос после отзыва токена.
func TestClient_RetryOnUnauthorized(t *testing.T) {
	var tokenRequests atomic.Int32

	client := setupMockKeycloak(t,
		func(w http.ResponseWriter, r *http.Request) {
			token := "test-access-token"
			if tokenRequests.Add(1) == 1 {
				token = "revoked-token"
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(TokenResponse{AccessToken: token, ExpiresIn: 300})
		},
		usersHandler(t, []KeycloakUser{{ID: "1", Username: "dm01"}}, nil),
	)

	got, err := client.FindUsers(context.Background(), "dm01")
	if err != nil {
		t.Fatalf("FindUsers: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("ожидался 1 пользователь, получено %d", len(got))
	}
	if tokenRequests.Load() != 2 {
		t.Errorf("ожидалось 2 запроса токена, получено %d", tokenRequests.Load())
	}
}

// TestClient_UnauthorizedTwice проверяет, что повтор выполняется только один раз.
func TestClient_UnauthorizedTwice(t *testing.T) {
	var adminRequests atomic.Int32

	client := setupMockKeycloak(t, nil, func(w http.ResponseWriter, r *http.Request) {
		adminRequests.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := client.FindUsers(context.Background(), "dm01")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("ожидалась APIError 401, получено %v", err)
	}
	if adminRequests.Load() != 2 {
		t.Errorf("ожидалось 2 запроса, получено %d", adminRequests.Load())
	}
}

// TestClient_FindUsers_Exact проверяет фильтрацию по точному username.
func TestClient_FindUsers_Exact(t *testing.T) {
	users := []KeycloakUser{
		{ID: "1", Username: "dm01"},
		{ID: "2", Username: "dm010"},
	}
	client := setupMockKeycloak(t, nil, usersHandler(t, users, nil))

	got, err := client.FindUsers(context.Background(), "DM01")
	if err != nil {
		t.Fatalf("FindUsers: %v", err)
	}
	if len(got) != 1 || got[0].ID != "1" {
		t.Errorf("ожидался один пользователь dm01, получено %+v", got)
	}
}

// TestDirectory_Query проверяет сборку атрибутов пользователя.
func TestDirectory_Query(t *testing.T) {
	users := []KeycloakUser{
		{
			ID:         "kc-1",
			Username:   "dm01",
			Email:      "dm01@example.org",
			Enabled:    true,
			Attributes: map[string][]string{"state": {"ACTIVE"}},
		},
	}
	roles := map[string][]RoleRepresentation{
		"kc-1": {{Name: "ARCHIVIST"}, {Name: "USER"}},
	}
	dir := NewDirectory(setupMockKeycloak(t, nil, usersHandler(t, users, roles)), testLogger())

	got, err := dir.Query(context.Background(), "dm01")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ожидалась 1 запись, получено %d", len(got))
	}
	if got[0].State != "ACTIVE" || got[0].Email != "dm01@example.org" || !got[0].HasRole("ARCHIVIST") {
		t.Errorf("неверные атрибуты: %+v", got[0])
	}
}

// TestDirectory_Query_StateFromEnabled проверяет вывод состояния из флага enabled.
func TestDirectory_Query_StateFromEnabled(t *testing.T) {
	users := []KeycloakUser{
		{ID: "kc-1", Username: "dm01", Enabled: false},
	}
	dir := NewDirectory(setupMockKeycloak(t, nil, usersHandler(t, users, nil)), testLogger())

	got, err := dir.Query(context.Background(), "dm01")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got[0].State != "BLOCKED" {
		t.Errorf("ожидалось BLOCKED, получено %s", got[0].State)
	}
}

// TestDirectory_Query_APIError проверяет проброс ошибки API.
func TestDirectory_Query_APIError(t *testing.T) {
	dir := NewDirectory(setupMockKeycloak(t, nil, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}), testLogger())

	_, err := dir.Query(context.Background(), "dm01")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusInternalServerError {
		t.Fatalf("ожидалась APIError 500, получено %v", err)
	}
}
