package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"license-server/internal/license"
	"license-server/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// serialPrefix 序号前缀，与客户端约定的格式为 DUCKY-XXXXXXXX-XXXXXXXX
const serialPrefix = "DUCKY"

// GenerateSerialNumber 生成唯一序号
func GenerateSerialNumber() string {
	part := func() string {
		return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:8]
	}
	return fmt.Sprintf("%s-%s-%s", serialPrefix, part(), part())
}

// CreateLicense 管理端创建许可证，序号生成后不可变更
func CreateLicense(db *gorm.DB, input *model.LicenseInput) (*model.License, error) {
	lic := &model.License{
		CustomerID:     input.CustomerID,
		ProductID:      input.ProductID,
		SerialNumber:   GenerateSerialNumber(),
		Features:       input.Features,
		MaxActivations: input.MaxActivations,
		Status:         model.LicenseStatusPending,
		ConnectionType: model.ConnectionTypeNetwork,
		Notes:          input.Notes,
	}
	if lic.MaxActivations < 1 {
		lic.MaxActivations = 1
	}
	if input.ConnectionType != "" {
		lic.ConnectionType = input.ConnectionType
	}
	if input.ExpiresAt != "" {
		expiresAt, err := time.Parse(time.RFC3339, input.ExpiresAt)
		if err != nil {
			return nil, license.NewError(license.KindValidationError, "expires_at 日期格式错误")
		}
		lic.ExpiresAt = &expiresAt
	}
	if err := db.Create(lic).Error; err != nil {
		return nil, err
	}
	return lic, nil
}

// RenewLicense 续期一年，无论当前状态都回到 active
func RenewLicense(db *gorm.DB, licenseID uint) (*model.License, error) {
	var lic model.License
	if err := db.First(&lic, licenseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, license.NewError(license.KindNotFound, "License not found")
		}
		return nil, err
	}
	license.Renew(&lic, time.Now().UTC())
	if err := db.Save(&lic).Error; err != nil {
		return nil, err
	}
	return &lic, nil
}

// BlacklistActivation 把启用记录加入黑名单，先过数量前置检查
func BlacklistActivation(db *gorm.DB, activationID uint) (*model.Activation, error) {
	var activation model.Activation
	if err := db.First(&activation, activationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, license.NewError(license.KindNotFound, "Activation not found")
		}
		return nil, err
	}

	var lic model.License
	if err := db.First(&lic, activation.LicenseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, license.NewError(license.KindNotFound, "License not found")
		}
		return nil, err
	}

	var activeCount int64
	if err := db.Model(&model.Activation{}).
		Where("license_id = ? AND status = ?", lic.ID, model.ActivationStatusActive).
		Count(&activeCount).Error; err != nil {
		return nil, err
	}

	if err := license.CheckBlacklistGuard(lic.MaxActivations, int(activeCount), &activation); err != nil {
		return nil, err
	}
	if err := license.MarkBlacklisted(&activation, time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := db.Save(&activation).Error; err != nil {
		return nil, err
	}
	return &activation, nil
}

// ManualActivation 管理端手动补登一条启用记录，同样受数量上限约束
func ManualActivation(db *gorm.DB, licenseID uint, machineCode string) (*model.Activation, error) {
	var lic model.License
	if err := db.First(&lic, licenseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, license.NewError(license.KindNotFound, "License not found")
		}
		return nil, err
	}

	// 与公开接口的激活走同一把序号锁，数量检查与写入串行执行
	unlock := licenseLockTable.lock(lic.SerialNumber)
	defer unlock()

	activation := &model.Activation{
		LicenseID:   lic.ID,
		MachineCode: machineCode,
		Status:      model.ActivationStatusActive,
		ActivatedAt: time.Now().UTC(),
	}
	err := db.Transaction(func(tx *gorm.DB) error {
		var activeCount int64
		if err := tx.Model(&model.Activation{}).
			Where("license_id = ? AND status = ?", lic.ID, model.ActivationStatusActive).
			Count(&activeCount).Error; err != nil {
			return err
		}
		if int(activeCount) >= lic.MaxActivations {
			return license.NewError(license.KindLimitExceeded, "Maximum activation limit reached.")
		}
		return tx.Create(activation).Error
	})
	if err != nil {
		return nil, err
	}
	return activation, nil
}

// GetLicenseStatistics 汇总许可证/启用/事件统计
func GetLicenseStatistics(db *gorm.DB) (*model.LicenseStatistics, error) {
	stats := &model.LicenseStatistics{}

	counts := []struct {
		dest  *int64
		query *gorm.DB
	}{
		{&stats.TotalLicenses, db.Model(&model.License{})},
		{&stats.PendingLicenses, db.Model(&model.License{}).Where("status = ?", model.LicenseStatusPending)},
		{&stats.ActiveLicenses, db.Model(&model.License{}).Where("status = ?", model.LicenseStatusActive)},
		{&stats.ExpiredLicenses, db.Model(&model.License{}).Where("status = ?", model.LicenseStatusExpired)},
		{&stats.DisabledLicenses, db.Model(&model.License{}).Where("status = ?", model.LicenseStatusDisabled)},
		{&stats.ExpiringLicenses, db.Model(&model.License{}).
			Where("status = ? AND expires_at <= ?", model.LicenseStatusActive, time.Now().UTC().AddDate(0, 0, 30))},
		{&stats.TotalActivations, db.Model(&model.Activation{})},
		{&stats.ActiveActivations, db.Model(&model.Activation{}).Where("status = ?", model.ActivationStatusActive)},
		{&stats.BlacklistedCount, db.Model(&model.Activation{}).Where("status = ?", model.ActivationStatusBlacklisted)},
		{&stats.SuspiciousEvents, db.Model(&model.EventLog{}).
			Where("severity IN ?", []string{model.SeveritySuspicious, model.SeverityCritical})},
		{&stats.UnconfirmedEvents, db.Model(&model.EventLog{}).Where("is_confirmed = ?", false)},
	}
	for _, c := range counts {
		if err := c.query.Count(c.dest).Error; err != nil {
			return nil, err
		}
	}
	return stats, nil
}
