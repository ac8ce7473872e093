package service

import (
	"testing"
	"time"

	"license-server/internal/database"
	"license-server/internal/license"
	"license-server/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyReActivation(t *testing.T) {
	tests := []struct {
		name               string
		machineCodeChanged bool
		hardwareChanged    bool
		wantSubtype        string
		wantSeverity       string
	}{
		{"no_change", false, false, model.EventSubtypeNoChange, model.SeverityInfo},
		{"machine_code_only", true, false, model.EventSubtypeMachineCodeChange, model.SeveritySuspicious},
		{"hardware_only", false, true, model.EventSubtypeHardwareChange, model.SeveritySuspicious},
		{"both", true, true, model.EventSubtypeMachineAndHardware, model.SeveritySuspicious},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subtype, severity := ClassifyReActivation(tt.machineCodeChanged, tt.hardwareChanged)
			assert.Equal(t, tt.wantSubtype, subtype)
			assert.Equal(t, tt.wantSeverity, severity)
		})
	}
}

func seedEvent(t *testing.T, severity string, confirmed bool, createdAt time.Time) *model.EventLog {
	t.Helper()
	ev := &model.EventLog{
		EventType:    model.EventTypeReActivation,
		EventSubtype: model.EventSubtypeHardwareChange,
		SerialNumber: "DUCKY-AAAABBBB-CCCCDDDD",
		Severity:     severity,
		IsConfirmed:  confirmed,
		CreatedAt:    createdAt,
	}
	require.NoError(t, database.DB.Create(ev).Error)
	return ev
}

func TestConfirmEventExactlyOnce(t *testing.T) {
	database.InitTestDB()
	defer database.CleanTestDB()

	ev := seedEvent(t, model.SeveritySuspicious, false, time.Now().UTC())

	confirmed, err := ConfirmEvent(database.DB, ev.ID, "admin")
	require.NoError(t, err)
	assert.True(t, confirmed.IsConfirmed)
	assert.Equal(t, "admin", confirmed.ConfirmedBy)
	assert.NotNil(t, confirmed.ConfirmedAt)

	// 重复确认拒绝
	_, err = ConfirmEvent(database.DB, ev.ID, "admin2")
	require.Error(t, err)
	assert.Equal(t, license.KindInvalidState, license.AsError(err).Kind)

	// 确认人不被覆盖
	var reloaded model.EventLog
	require.NoError(t, database.DB.First(&reloaded, ev.ID).Error)
	assert.Equal(t, "admin", reloaded.ConfirmedBy)
}

func TestConfirmEventNotFound(t *testing.T) {
	database.InitTestDB()
	defer database.CleanTestDB()

	_, err := ConfirmEvent(database.DB, 9999, "admin")
	require.Error(t, err)
	assert.Equal(t, license.KindNotFound, license.AsError(err).Kind)
}

func TestGetSuspiciousEvents(t *testing.T) {
	database.InitTestDB()
	defer database.CleanTestDB()

	now := time.Now().UTC()
	seedEvent(t, model.SeveritySuspicious, false, now)
	seedEvent(t, model.SeverityCritical, false, now)
	seedEvent(t, model.SeverityInfo, true, now)
	// 窗口之外的可疑事件不返回
	seedEvent(t, model.SeveritySuspicious, false, now.AddDate(0, 0, -10))

	events, err := GetSuspiciousEvents(database.DB, 7, 100)
	require.NoError(t, err)
	assert.Len(t, events, 2)
	for _, ev := range events {
		assert.Contains(t, []string{model.SeveritySuspicious, model.SeverityCritical}, ev.Severity)
	}
}

func TestUnconfirmedEvents(t *testing.T) {
	database.InitTestDB()
	defer database.CleanTestDB()

	licenseID := uint(42)
	otherID := uint(43)
	now := time.Now().UTC()

	unconfirmed := seedEvent(t, model.SeveritySuspicious, false, now)
	unconfirmed.LicenseID = &licenseID
	require.NoError(t, database.DB.Save(unconfirmed).Error)

	confirmed := seedEvent(t, model.SeverityInfo, true, now)
	confirmed.LicenseID = &licenseID
	require.NoError(t, database.DB.Save(confirmed).Error)

	other := seedEvent(t, model.SeveritySuspicious, false, now)
	other.LicenseID = &otherID
	require.NoError(t, database.DB.Save(other).Error)

	events, err := GetUnconfirmedEvents(database.DB, licenseID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, unconfirmed.ID, events[0].ID)

	count, err := CountUnconfirmedEvents(database.DB, licenseID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
