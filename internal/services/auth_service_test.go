package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
)

func TestPasswordHashing(t *testing.T) {
	NewAuthService(nil, nil) // applies argon2 defaults

	t.Run("hash and verify roundtrip", func(t *testing.T) {
		hashed, err := hashPassword("correct horse battery staple")
		assert.NoError(t, err)
		assert.NotEmpty(t, hashed)

		assert.True(t, verifyPassword("correct horse battery staple", hashed))
		assert.False(t, verifyPassword("wrong password", hashed))
	})

	t.Run("same password hashes differently per salt", func(t *testing.T) {
		h1, err := hashPassword("password123")
		assert.NoError(t, err)
		h2, err := hashPassword("password123")
		assert.NoError(t, err)
		assert.NotEqual(t, h1, h2)
	})

	t.Run("malformed hash rejected", func(t *testing.T) {
		assert.False(t, verifyPassword("password123", "not-a-valid-hash"))
	})
}

func TestAuthService_Register(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAuthService(db, nil)

	body := RegisterRequest{
		Email:       "Client@Example.com",
		Password:    "password123",
		DisplayName: "Ada",
	}

	t.Run("successful registration creates user and default wallet", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO users").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO wallets").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		rr := httptest.NewRecorder()
		service.Register(rr, authedRequest(http.MethodPost, "/api/v1/auth/register", body, ""))
		assert.Equal(t, http.StatusCreated, rr.Code)

		var resp AuthResponse
		assert.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Token)
		assert.Equal(t, "client@example.com", resp.User.Email)
		assert.Equal(t, "USD", resp.Wallet.Currency)
		assert.True(t, resp.Wallet.IsPrimary)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate email returns conflict", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO users").
			WillReturnError(assert.AnError)
		mock.ExpectRollback()

		rr := httptest.NewRecorder()
		service.Register(rr, authedRequest(http.MethodPost, "/api/v1/auth/register", body, ""))
		assert.Equal(t, http.StatusConflict, rr.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("short password rejected", func(t *testing.T) {
		short := body
		short.Password = "short"

		rr := httptest.NewRecorder()
		service.Register(rr, authedRequest(http.MethodPost, "/api/v1/auth/register", short, ""))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestAuthService_Login(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAuthService(db, nil)

	hashed, err := hashPassword("password123")
	assert.NoError(t, err)

	userRow := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "email", "password", "display_name", "created_at", "updated_at"}).
			AddRow("user1", "client@example.com", hashed, "Ada", time.Now(), time.Now())
	}

	t.Run("successful login", func(t *testing.T) {
		mock.ExpectQuery("FROM users").
			WithArgs("client@example.com").
			WillReturnRows(userRow())

		mock.ExpectExec("UPDATE users").
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectQuery("FROM wallets").
			WithArgs("user1").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "user_id", "balance", "currency", "is_primary", "version", "created_at", "updated_at",
			}).AddRow("wallet1", "user1", 5000, "USD", true, 1, time.Now(), time.Now()))

		rr := httptest.NewRecorder()
		service.Login(rr, authedRequest(http.MethodPost, "/api/v1/auth/login",
			LoginRequest{Email: "client@example.com", Password: "password123"}, ""))
		assert.Equal(t, http.StatusOK, rr.Code)

		var resp AuthResponse
		assert.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Token)
		assert.Equal(t, "wallet1", resp.Wallet.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wrong password", func(t *testing.T) {
		mock.ExpectQuery("FROM users").
			WithArgs("client@example.com").
			WillReturnRows(userRow())

		rr := httptest.NewRecorder()
		service.Login(rr, authedRequest(http.MethodPost, "/api/v1/auth/login",
			LoginRequest{Email: "client@example.com", Password: "wrong-password"}, ""))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown email", func(t *testing.T) {
		mock.ExpectQuery("FROM users").
			WithArgs("nobody@example.com").
			WillReturnError(assert.AnError)

		rr := httptest.NewRecorder()
		service.Login(rr, authedRequest(http.MethodPost, "/api/v1/auth/login",
			LoginRequest{Email: "nobody@example.com", Password: "password123"}, ""))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAuthService_Logout(t *testing.T) {
	redisClient, redisMock := redismock.NewClientMock()
	service := NewAuthService(nil, redisClient)

	t.Run("token is blacklisted", func(t *testing.T) {
		expiry := time.Duration(24) * time.Hour
		redisMock.ExpectSet("blacklist:sometoken", "1", expiry).SetVal("OK")

		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
		req.Header.Set("Authorization", "Bearer sometoken")

		rr := httptest.NewRecorder()
		service.Logout(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("logout without token still succeeds", func(t *testing.T) {
		rr := httptest.NewRecorder()
		service.Logout(rr, httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	})
}
