package service

import (
	"time"

	"license-server/internal/license"
	"license-server/internal/model"

	"gorm.io/gorm"
)

// Recorder 审计事件记录器：把每次激活/验证/停用的结果归类为
// (事件类型, 子类型, 严重等级) 并写入 EventLog
type Recorder struct{}

func NewRecorder() *Recorder { return &Recorder{} }

// EventContext 一次请求的公共上下文
type EventContext struct {
	License    *model.License
	Activation *model.Activation
	Request    *model.ActivationRequest
	IPAddress  string
	UserAgent  string
}

func (r *Recorder) newEvent(ctx EventContext, eventType, subtype, severity string) *model.EventLog {
	ev := &model.EventLog{
		EventType:    eventType,
		EventSubtype: subtype,
		SerialNumber: ctx.License.SerialNumber,
		MachineCode:  ctx.Request.MachineCode,
		IPAddress:    ctx.IPAddress,
		UserAgent:    ctx.UserAgent,
		Severity:     severity,
		CreatedAt:    time.Now().UTC(),
	}
	licenseID := ctx.License.ID
	ev.LicenseID = &licenseID
	if ctx.Activation != nil {
		activationID := ctx.Activation.ID
		ev.ActivationID = &activationID
	}
	return ev
}

// RecordNewActivation 新机器首次激活
func (r *Recorder) RecordNewActivation(tx *gorm.DB, ctx EventContext) error {
	ev := r.newEvent(ctx, model.EventTypeActivation, model.EventSubtypeNewActivation, model.SeverityInfo)
	ev.Details = map[string]any{
		"hardware_ids": map[string]any{
			"keypro_id":      ctx.Request.KeyproID,
			"motherboard_id": ctx.Request.MotherboardID,
			"disk_id":        ctx.Request.DiskID,
		},
		"app_version": ctx.Request.AppVersion,
	}
	return tx.Create(ev).Error
}

// ClassifyReActivation 重复激活的归类：
// 任一维度有变化即为可疑事件，需要管理员确认
func ClassifyReActivation(machineCodeChanged, hardwareChanged bool) (subtype, severity string) {
	switch {
	case machineCodeChanged && hardwareChanged:
		return model.EventSubtypeMachineAndHardware, model.SeveritySuspicious
	case machineCodeChanged:
		return model.EventSubtypeMachineCodeChange, model.SeveritySuspicious
	case hardwareChanged:
		return model.EventSubtypeHardwareChange, model.SeveritySuspicious
	default:
		return model.EventSubtypeNoChange, model.SeverityInfo
	}
}

// RecordReActivation 重复激活，prior 为更新前的指纹快照
func (r *Recorder) RecordReActivation(tx *gorm.DB, ctx EventContext, prior *license.FingerprintSnapshot, machineCodeChanged, hardwareChanged bool) error {
	subtype, severity := ClassifyReActivation(machineCodeChanged, hardwareChanged)
	ev := r.newEvent(ctx, model.EventTypeReActivation, subtype, severity)
	ev.Details = map[string]any{
		"machine_code_changed": machineCodeChanged,
		"hardware_changes":     hardwareChanges(prior, ctx.Request),
		"app_version":          map[string]any{"old": prior.AppVersion, "new": ctx.Request.AppVersion},
	}
	if machineCodeChanged {
		ev.Details["old_machine_code"] = prior.MachineCode
		ev.Details["new_machine_code"] = ctx.Request.MachineCode
	}
	return tx.Create(ev).Error
}

// RecordNormalValidation 正常验证，info 级事件默认已确认
func (r *Recorder) RecordNormalValidation(tx *gorm.DB, ctx EventContext) error {
	ev := r.newEvent(ctx, model.EventTypeValidation, model.EventSubtypeNormalValidation, model.SeverityInfo)
	ev.Details = map[string]any{
		"validation_successful": true,
		"hardware_ids": map[string]any{
			"keypro_id":      ctx.Request.KeyproID,
			"motherboard_id": ctx.Request.MotherboardID,
			"disk_id":        ctx.Request.DiskID,
		},
		"app_version": ctx.Request.AppVersion,
	}
	now := time.Now().UTC()
	ev.IsConfirmed = true
	ev.ConfirmedBy = "system"
	ev.ConfirmedAt = &now
	return tx.Create(ev).Error
}

// RecordValidationHardwareChange 验证时检测到指纹漂移，额外记一条可疑事件
func (r *Recorder) RecordValidationHardwareChange(tx *gorm.DB, ctx EventContext, prior *license.FingerprintSnapshot, machineCodeUpdated, hardwareUpdated bool) error {
	ev := r.newEvent(ctx, model.EventTypeHardwareChange, model.EventSubtypeValidationHardware, model.SeveritySuspicious)
	ev.Details = map[string]any{
		"machine_code_updated": machineCodeUpdated,
		"hardware_updated":     hardwareUpdated,
		"hardware_changes":     hardwareChanges(prior, ctx.Request),
		"app_version":          map[string]any{"old": prior.AppVersion, "new": ctx.Request.AppVersion},
	}
	return tx.Create(ev).Error
}

// RecordBlacklistHit 验证命中黑名单记录，安全相关的拒绝也要留痕
func (r *Recorder) RecordBlacklistHit(tx *gorm.DB, ctx EventContext) error {
	ev := r.newEvent(ctx, model.EventTypeValidation, model.EventSubtypeBlacklistHit, model.SeverityCritical)
	ev.Details = map[string]any{
		"blacklisted_activation_id": ctx.Activation.ID,
		"hardware_ids": map[string]any{
			"keypro_id":      ctx.Request.KeyproID,
			"motherboard_id": ctx.Request.MotherboardID,
			"disk_id":        ctx.Request.DiskID,
		},
	}
	return tx.Create(ev).Error
}

// RecordDeactivation 用户主动停用
func (r *Recorder) RecordDeactivation(tx *gorm.DB, ctx EventContext) error {
	ev := r.newEvent(ctx, model.EventTypeDeactivation, model.EventSubtypeUserDeactivation, model.SeverityInfo)
	ev.Details = map[string]any{
		"machine_code": ctx.Request.MachineCode,
	}
	return tx.Create(ev).Error
}

func hardwareChanges(prior *license.FingerprintSnapshot, req *model.ActivationRequest) map[string]any {
	return map[string]any{
		"keypro_id":      map[string]any{"old": prior.Fingerprint.KeyproID, "new": req.KeyproID},
		"motherboard_id": map[string]any{"old": prior.Fingerprint.MotherboardID, "new": req.MotherboardID},
		"disk_id":        map[string]any{"old": prior.Fingerprint.DiskID, "new": req.DiskID},
	}
}

// ConfirmEvent 确认事件，确认字段只允许写入一次，重复确认直接拒绝
func ConfirmEvent(db *gorm.DB, eventID uint, confirmedBy string) (*model.EventLog, error) {
	var ev model.EventLog
	if err := db.First(&ev, eventID).Error; err != nil {
		return nil, license.NewError(license.KindNotFound, "事件不存在")
	}
	if ev.IsConfirmed {
		return nil, license.NewError(license.KindInvalidState, "事件已确认，不可重复确认")
	}
	now := time.Now().UTC()
	ev.IsConfirmed = true
	ev.ConfirmedBy = confirmedBy
	ev.ConfirmedAt = &now
	if err := db.Save(&ev).Error; err != nil {
		return nil, err
	}
	return &ev, nil
}

// GetSuspiciousEvents 获取近期可疑/严重事件
func GetSuspiciousEvents(db *gorm.DB, days, limit int) ([]model.EventLog, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	var events []model.EventLog
	err := db.Where("severity IN ? AND created_at >= ?", []string{model.SeveritySuspicious, model.SeverityCritical}, cutoff).
		Order("created_at DESC").Limit(limit).Find(&events).Error
	return events, err
}

// GetUnconfirmedEvents 获取指定许可证的未确认事件
func GetUnconfirmedEvents(db *gorm.DB, licenseID uint) ([]model.EventLog, error) {
	var events []model.EventLog
	err := db.Where("license_id = ? AND is_confirmed = ?", licenseID, false).
		Order("created_at DESC").Find(&events).Error
	return events, err
}

// CountUnconfirmedEvents 获取指定许可证的未确认事件数量
func CountUnconfirmedEvents(db *gorm.DB, licenseID uint) (int64, error) {
	var count int64
	err := db.Model(&model.EventLog{}).
		Where("license_id = ? AND is_confirmed = ?", licenseID, false).Count(&count).Error
	return count, err
}
