package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/recarr/internal/database/migrations"
	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/repository"
)

func authTestUsers(t *testing.T) repository.UserRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	migrator := migrations.NewMigrator(db, nil)
	migrator.RegisterAll(migrations.AllMigrations())
	require.NoError(t, migrator.Up(context.Background()))
	return repository.NewUserRepository(db)
}

func createKeyedUser(t *testing.T, users repository.UserRepository, key string, enabled bool) *models.User {
	t.Helper()
	digest := sha256.Sum256([]byte(key))
	user := &models.User{
		Email:      models.NewULID().String() + "@example.com",
		Slug:       1,
		APIKeyHash: hex.EncodeToString(digest[:]),
		Enabled:    &enabled,
	}
	require.NoError(t, users.Create(context.Background(), user))
	return user
}

func TestAuth_ValidToken(t *testing.T) {
	users := authTestUsers(t)
	user := createKeyedUser(t, users, "secret-key", true)

	var seen *models.User
	handler := Auth(users, "/api/v1/", nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserFrom(r.Context())
	}))

	req := httptest.NewRequest("GET", "/api/v1/recordings", nil)
	req.Header.Set("Authorization", "Bearer secret-key")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, user.ID, seen.ID)
}

func TestAuth_RejectsBadAndMissingTokens(t *testing.T) {
	users := authTestUsers(t)
	createKeyedUser(t, users, "secret-key", true)

	handler := Auth(users, "/api/v1/", nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached without credentials")
	}))

	for name, header := range map[string]string{
		"missing": "",
		"wrong":   "Bearer not-the-key",
		"basic":   "Basic secret-key",
	} {
		req := httptest.NewRequest("GET", "/api/v1/recordings", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, name)
	}
}

func TestAuth_DisabledUserLooksLikeUnknownKey(t *testing.T) {
	users := authTestUsers(t)
	createKeyedUser(t, users, "secret-key", false)

	handler := Auth(users, "/api/v1/", nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached for disabled user")
	}))

	req := httptest.NewRequest("GET", "/api/v1/recordings", nil)
	req.Header.Set("Authorization", "Bearer secret-key")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_OpenPathsPassThrough(t *testing.T) {
	users := authTestUsers(t)

	reached := false
	handler := Auth(users, "/api/v1/", nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, reached)
}
