package handler

import (
	"net/http"
	"testing"

	"license-server/internal/database"
	"license-server/internal/middleware"
	"license-server/internal/model"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func setupUserApp(t *testing.T) *fiber.App {
	t.Helper()
	database.InitTestDB()
	t.Cleanup(database.CleanTestDB)

	app := fiber.New()
	app.Post("/api/v1/users/register", HandleUserRegister)
	app.Post("/api/v1/users/login", HandleUserLogin)
	app.Get("/api/v1/users/info", middleware.Auth(), HandleUserInfo)
	return app
}

func seedUser(t *testing.T, username, password, role string) *model.User {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	require.NoError(t, err)
	user := &model.User{
		Username: username,
		Password: string(hashed),
		Email:    username + "@example.com",
		Role:     role,
		Status:   "active",
	}
	require.NoError(t, database.DB.Create(user).Error)
	return user
}

func TestHandleUserRegister(t *testing.T) {
	app := setupUserApp(t)

	tests := []struct {
		name       string
		body       map[string]any
		wantStatus int
	}{
		{
			name: "valid_user",
			body: map[string]any{
				"username": "operator",
				"password": "secret123",
				"email":    "operator@example.com",
			},
			wantStatus: fiber.StatusCreated,
		},
		{
			name: "invalid_email",
			body: map[string]any{
				"username": "operator2",
				"password": "secret123",
				"email":    "not-an-email",
			},
			wantStatus: fiber.StatusBadRequest,
		},
		{
			name: "short_password",
			body: map[string]any{
				"username": "operator3",
				"password": "123",
				"email":    "operator3@example.com",
			},
			wantStatus: fiber.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, parsed := postJSON(t, app, "/api/v1/users/register", tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.wantStatus == fiber.StatusCreated {
				// 响应不带密码
				assert.Empty(t, parsed["password"])
			}
		})
	}
}

func TestHandleUserLogin(t *testing.T) {
	app := setupUserApp(t)
	seedUser(t, "operator", "secret123", "user")

	resp, parsed := postJSON(t, app, "/api/v1/users/login", map[string]any{
		"username": "operator",
		"password": "secret123",
	})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	token, _ := parsed["token"].(string)
	require.NotEmpty(t, token)

	// 持令牌访问个人信息
	req, _ := http.NewRequest("GET", "/api/v1/users/info", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	infoResp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, infoResp.StatusCode)

	// 错误密码
	resp, _ = postJSON(t, app, "/api/v1/users/login", map[string]any{
		"username": "operator",
		"password": "wrong",
	})
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	// 不存在的用户
	resp, _ = postJSON(t, app, "/api/v1/users/login", map[string]any{
		"username": "ghost",
		"password": "secret123",
	})
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestHandleUserInfoRequiresToken(t *testing.T) {
	app := setupUserApp(t)

	req, _ := http.NewRequest("GET", "/api/v1/users/info", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
