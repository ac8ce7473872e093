package handler

import (
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"license-server/internal/database"
	"license-server/internal/model"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupAdminApp(t *testing.T) *fiber.App {
	t.Helper()
	database.InitTestDB()
	t.Cleanup(database.CleanTestDB)

	app := fiber.New()
	app.Post("/api/v1/licenses", HandleLicenseCreate)
	app.Get("/api/v1/licenses", HandleGetAllLicenses)
	app.Get("/api/v1/licenses/statistics", HandleLicenseStatistics)
	app.Get("/api/v1/licenses/:id", HandleGetLicense)
	app.Put("/api/v1/licenses/:id", HandleLicenseUpdate)
	app.Delete("/api/v1/licenses/:id", HandleLicenseDelete)
	app.Post("/api/v1/licenses/:id/renew", HandleLicenseRenew)
	app.Post("/api/v1/licenses/:id/activations", HandleManualActivation)
	app.Get("/api/v1/licenses/:id/activations", HandleGetLicenseActivations)
	app.Get("/api/v1/licenses/:id/events/unconfirmed/count", HandleCountUnconfirmedEvents)
	app.Post("/api/v1/activations/:id/blacklist", HandleBlacklistActivation)
	app.Get("/api/v1/events", HandleGetEventLogs)
	app.Post("/api/v1/events/:id/confirm", HandleConfirmEvent)
	return app
}

func TestHandleLicenseCreate(t *testing.T) {
	app := setupAdminApp(t)

	tests := []struct {
		name       string
		body       map[string]any
		wantStatus int
	}{
		{
			name: "valid_license",
			body: map[string]any{
				"customer_id":     1,
				"product_id":      1,
				"features":        []string{"trading"},
				"max_activations": 2,
				"expires_at":      "2027-01-01T00:00:00Z",
			},
			wantStatus: fiber.StatusCreated,
		},
		{
			name:       "missing_customer",
			body:       map[string]any{"product_id": 1},
			wantStatus: fiber.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, parsed := postJSON(t, app, "/api/v1/licenses", tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.wantStatus == fiber.StatusCreated {
				serial, _ := parsed["serial_number"].(string)
				assert.Regexp(t, `^DUCKY-[0-9A-F]{8}-[0-9A-F]{8}$`, serial)
				assert.Equal(t, "pending", parsed["status"])
			}
		})
	}
}

func TestHandleLicenseRenew(t *testing.T) {
	app := setupAdminApp(t)

	past := time.Now().UTC().AddDate(0, -1, 0)
	lic := &model.License{
		CustomerID: 1, ProductID: 1,
		SerialNumber: "DUCKY-AAAABBBB-CCCCDDDD",
		Status:       model.LicenseStatusExpired,
		ExpiresAt:    &past,
	}
	require.NoError(t, database.DB.Create(lic).Error)

	resp, parsed := postJSON(t, app, fmt.Sprintf("/api/v1/licenses/%d/renew", lic.ID), nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "active", parsed["status"])

	resp, _ = postJSON(t, app, "/api/v1/licenses/9999/renew", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestHandleBlacklistActivation(t *testing.T) {
	app := setupAdminApp(t)

	lic := &model.License{
		CustomerID: 1, ProductID: 1,
		SerialNumber:   "DUCKY-AAAABBBB-CCCCDDDD",
		Status:         model.LicenseStatusActive,
		MaxActivations: 1,
	}
	require.NoError(t, database.DB.Create(lic).Error)

	a := &model.Activation{
		LicenseID: lic.ID, MachineCode: "aaaaaaaaaaaaaaaa",
		Status: model.ActivationStatusActive, ActivatedAt: time.Now().UTC(),
	}
	require.NoError(t, database.DB.Create(a).Error)

	// 拉黑会空出配额，拒绝
	resp, _ := postJSON(t, app, fmt.Sprintf("/api/v1/activations/%d/blacklist", a.ID), nil)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	b := &model.Activation{
		LicenseID: lic.ID, MachineCode: "bbbbbbbbbbbbbbbb",
		Status: model.ActivationStatusActive, ActivatedAt: time.Now().UTC(),
	}
	require.NoError(t, database.DB.Create(b).Error)

	resp, parsed := postJSON(t, app, fmt.Sprintf("/api/v1/activations/%d/blacklist", a.ID), nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", parsed["status"])
}

func TestHandleLicenseDownload(t *testing.T) {
	app := setupPublicApp(t)
	app.Get("/api/v1/licenses/:id/download", HandleLicenseDownload)
	lic := seedTestLicense(t, 1)

	resp, _ := postJSON(t, app, "/api/v1/public/activate", map[string]any{
		"serial_number": lic.SerialNumber,
		"machine_code":  "aaaaaaaaaaaaaaaa-suffix1",
		"keypro_id":     "KP-1",
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	req, _ := http.NewRequest("GET",
		fmt.Sprintf("/api/v1/licenses/%d/download?machine_code=aaaaaaaaaaaaaaaa-suffix1", lic.ID), nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get(fiber.HeaderContentDisposition), lic.SerialNumber+".lic")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotEmpty(t, body)

	// 未激活的机器码没有可下载的授权文件
	req, _ = http.NewRequest("GET",
		fmt.Sprintf("/api/v1/licenses/%d/download?machine_code=never-activated", lic.ID), nil)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	// 缺少 machine_code 参数
	req, _ = http.NewRequest("GET", fmt.Sprintf("/api/v1/licenses/%d/download", lic.ID), nil)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestHandleConfirmEvent(t *testing.T) {
	app := setupAdminApp(t)

	licenseID := uint(1)
	ev := &model.EventLog{
		EventType:    model.EventTypeReActivation,
		EventSubtype: model.EventSubtypeHardwareChange,
		SerialNumber: "DUCKY-AAAABBBB-CCCCDDDD",
		LicenseID:    &licenseID,
		Severity:     model.SeveritySuspicious,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, database.DB.Create(ev).Error)

	body := map[string]any{"confirmed_by": "admin"}
	resp, parsed := postJSON(t, app, fmt.Sprintf("/api/v1/events/%d/confirm", ev.ID), body)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, parsed["is_confirmed"])

	// 重复确认拒绝
	resp, _ = postJSON(t, app, fmt.Sprintf("/api/v1/events/%d/confirm", ev.ID), body)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestHandleGetEventLogsFilter(t *testing.T) {
	app := setupAdminApp(t)

	for _, severity := range []string{model.SeverityInfo, model.SeveritySuspicious} {
		ev := &model.EventLog{
			EventType:    model.EventTypeValidation,
			SerialNumber: "DUCKY-AAAABBBB-CCCCDDDD",
			Severity:     severity,
			CreatedAt:    time.Now().UTC(),
		}
		require.NoError(t, database.DB.Create(ev).Error)
	}

	resp, parsed := getJSON(t, app, "/api/v1/events?severity=suspicious")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), parsed["total"])
}

func TestHandleLicenseStatistics(t *testing.T) {
	app := setupAdminApp(t)

	lic := &model.License{
		CustomerID: 1, ProductID: 1,
		SerialNumber: "DUCKY-AAAABBBB-CCCCDDDD",
		Status:       model.LicenseStatusActive,
	}
	require.NoError(t, database.DB.Create(lic).Error)

	resp, parsed := getJSON(t, app, "/api/v1/licenses/statistics")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	data, ok := parsed["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), data["total_licenses"])
	assert.Equal(t, float64(1), data["active_licenses"])
}
