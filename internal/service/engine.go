package service

import (
	"errors"
	"fmt"
	"time"

	"license-server/internal/license"
	"license-server/internal/model"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Engine 激活/验证/停用的核心流程：指纹匹配 → 状态机 → 审计事件 → 授权文件。
// 同一序号的请求通过进程内锁串行执行，保证启用数量上限是硬约束
type Engine struct {
	db       *gorm.DB
	matcher  *license.Matcher
	codec    *license.Codec
	recorder *Recorder
	locks    *licenseLocks
}

func NewEngine(db *gorm.DB, codec *license.Codec, diskIDBlacklist []string) *Engine {
	return &Engine{
		db:       db,
		matcher:  license.NewMatcher(diskIDBlacklist),
		codec:    codec,
		recorder: NewRecorder(),
		locks:    licenseLockTable,
	}
}

// RequestMeta 请求来源信息，写入审计事件
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

func requestFingerprint(req *model.ActivationRequest) license.Fingerprint {
	return license.Fingerprint{
		KeyproID:      req.KeyproID,
		MotherboardID: req.MotherboardID,
		DiskID:        req.DiskID,
	}
}

func (e *Engine) findLicense(serialNumber string) (*model.License, error) {
	var lic model.License
	err := e.db.Preload("Customer").Where("serial_number = ?", serialNumber).First(&lic).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, license.NewError(license.KindNotFound, "Serial number not found.")
		}
		return nil, err
	}
	return &lic, nil
}

func (e *Engine) loadActivations(licenseID uint, status string) ([]model.Activation, error) {
	var pool []model.Activation
	err := e.db.Where("license_id = ? AND status = ?", licenseID, status).
		Order("activated_at ASC").Find(&pool).Error
	return pool, err
}

// Activate 激活流程
func (e *Engine) Activate(req *model.ActivationRequest, meta RequestMeta) (*model.ActivationResponse, error) {
	unlock := e.locks.lock(req.SerialNumber)
	defer unlock()

	lic, err := e.findLicense(req.SerialNumber)
	if err != nil {
		return nil, err
	}

	if !license.CanActivate(lic) {
		return nil, license.NewError(license.KindInvalidState,
			fmt.Sprintf("License status is %s and cannot be activated.", lic.Status))
	}
	now := time.Now().UTC()
	if lic.IsExpired(now) {
		return nil, license.NewError(license.KindInvalidState, "License has expired.")
	}

	pool, err := e.loadActivations(lic.ID, model.ActivationStatusActive)
	if err != nil {
		return nil, err
	}

	fp := requestFingerprint(req)
	outcome := e.matcher.Match(req.MachineCode, fp, pool)

	if !outcome.Matched() && len(pool) >= lic.MaxActivations {
		return nil, license.NewError(license.KindLimitExceeded,
			"Maximum activation limit reached for this serial number.")
	}

	// KeyPro 绑定限制：已绑定的序号不允许换用其他 KeyPro。
	// NO_KEYPRO 等占位值不算换用，走后续的降级检测
	if outcome.Matched() && license.IsValidKeypro(req.KeyproID) &&
		outcome.Activation.KeyproID != "" && outcome.Activation.KeyproID != req.KeyproID {
		return nil, license.NewError(license.KindForbidden,
			"此序號已綁定其他 KeyPro，無法更換，如需要更換，請聯繫客服。")
	}

	err = e.db.Transaction(func(tx *gorm.DB) error {
		ctx := EventContext{License: lic, Request: req, IPAddress: meta.IPAddress, UserAgent: meta.UserAgent}

		if !outcome.Matched() {
			activation := model.Activation{
				LicenseID:     lic.ID,
				MachineCode:   req.MachineCode,
				KeyproID:      req.KeyproID,
				MotherboardID: req.MotherboardID,
				DiskID:        req.DiskID,
				AppVersion:    req.AppVersion,
				IPAddress:     meta.IPAddress,
				Status:        model.ActivationStatusActive,
				ActivatedAt:   now,
			}
			if err := tx.Create(&activation).Error; err != nil {
				return err
			}
			ctx.Activation = &activation
			if err := e.recorder.RecordNewActivation(tx, ctx); err != nil {
				return err
			}
		} else {
			activation := outcome.Activation
			prior := license.SnapshotOf(activation)
			machineCodeChanged := activation.MachineCode != req.MachineCode
			hardwareChanged := activation.KeyproID != req.KeyproID ||
				activation.MotherboardID != req.MotherboardID ||
				activation.DiskID != req.DiskID

			// 硬件ID命中但机器码不同，直接改机器码沿用原记录
			if outcome.RuleName == "hardware_id" {
				activation.MachineCode = req.MachineCode
			}
			// 占位 KeyPro 不覆盖已有绑定
			if license.IsValidKeypro(req.KeyproID) || activation.KeyproID == "" {
				activation.KeyproID = req.KeyproID
			}
			activation.MotherboardID = req.MotherboardID
			activation.DiskID = req.DiskID
			if err := tx.Save(activation).Error; err != nil {
				return err
			}
			ctx.Activation = activation
			if err := e.recorder.RecordReActivation(tx, ctx, prior, machineCodeChanged, hardwareChanged); err != nil {
				return err
			}
		}

		if lic.Status == model.LicenseStatusPending {
			license.MarkActive(lic)
			if err := tx.Save(lic).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// 授权文件生成失败不回滚已提交的状态变更，客户端可重试
	content, err := e.codec.Encode(license.PayloadInput{
		License:     lic,
		MachineCode: req.MachineCode,
		HardwareIDs: hardwareIDMap(req.KeyproID, req.MotherboardID, req.DiskID),
		AppVersion:  req.AppVersion,
	})
	if err != nil {
		zap.S().Errorw("生成授权文件失败", "serial_number", lic.SerialNumber, "error", err)
		return nil, err
	}

	return &model.ActivationResponse{
		Status:             "success",
		Message:            "License activated successfully.",
		LicenseFileContent: content,
	}, nil
}

// Validate 验证流程
func (e *Engine) Validate(req *model.ActivationRequest, meta RequestMeta) (*model.ActivationResponse, error) {
	unlock := e.locks.lock(req.SerialNumber)
	defer unlock()

	lic, err := e.findLicense(req.SerialNumber)
	if err != nil {
		return nil, err
	}
	fp := requestFingerprint(req)
	now := time.Now().UTC()

	// 黑名单前置检查
	blacklisted, err := e.loadActivations(lic.ID, model.ActivationStatusBlacklisted)
	if err != nil {
		return nil, err
	}
	if hit := e.matcher.MatchBlacklisted(req.MachineCode, fp, blacklisted); hit != nil {
		ctx := EventContext{License: lic, Activation: hit, Request: req, IPAddress: meta.IPAddress, UserAgent: meta.UserAgent}
		if err := e.recorder.RecordBlacklistHit(e.db, ctx); err != nil {
			zap.S().Errorw("记录黑名单命中事件失败", "serial_number", lic.SerialNumber, "error", err)
		}
		return nil, license.NewError(license.KindForbidden, "此電腦已被列入取消清單，無法驗證授權。")
	}

	pool, err := e.loadActivations(lic.ID, model.ActivationStatusActive)
	if err != nil {
		return nil, err
	}

	// 机器码不匹配且要走硬件ID匹配时，先做 KeyPro 绑定检查
	tagHit := (license.ExactTagRule{}).Match(req.MachineCode, fp, pool)
	if tagHit == nil && !fp.Empty() && license.IsValidKeypro(req.KeyproID) {
		for i := range pool {
			if pool[i].KeyproID != "" && pool[i].KeyproID != req.KeyproID {
				return nil, license.NewError(license.KindForbidden,
					"此序號已綁定其他 KeyPro，無法更換，如需要更換，請聯繫客服。")
			}
		}
	}

	outcome := e.matcher.Match(req.MachineCode, fp, pool)
	if !outcome.Matched() {
		return nil, license.NewError(license.KindForbidden, "序號與電腦配對失敗。")
	}

	// 匹配到的记录已绑定其他 KeyPro 时拒绝，占位值不算
	if license.IsValidKeypro(req.KeyproID) && outcome.Activation.KeyproID != "" &&
		outcome.Activation.KeyproID != req.KeyproID {
		return nil, license.NewError(license.KindForbidden,
			"此序號已綁定其他 KeyPro，無法更換，如需要更換，請聯繫客服。")
	}

	// 硬件ID命中但机器码变了：换绑。旧记录停用、新记录创建在同一事务内完成
	if outcome.RuleName == "hardware_id" {
		prior := license.SnapshotOf(outcome.Activation)
		var replacement model.Activation
		err = e.db.Transaction(func(tx *gorm.DB) error {
			old := outcome.Activation
			if err := license.Deactivate(old, now); err != nil {
				return err
			}
			if err := tx.Save(old).Error; err != nil {
				return err
			}

			// 请求未带有效 KeyPro 时保留原记录的 KeyPro，不置空
			preservedKeypro := req.KeyproID
			if !license.IsValidKeypro(preservedKeypro) && prior.Fingerprint.KeyproID != "" {
				preservedKeypro = prior.Fingerprint.KeyproID
			}
			replacement = model.Activation{
				LicenseID:     lic.ID,
				MachineCode:   req.MachineCode,
				KeyproID:      preservedKeypro,
				MotherboardID: req.MotherboardID,
				DiskID:        req.DiskID,
				AppVersion:    req.AppVersion,
				IPAddress:     meta.IPAddress,
				Status:        model.ActivationStatusActive,
				ActivatedAt:   now,
			}
			return tx.Create(&replacement).Error
		})
		if err != nil {
			return nil, err
		}
		outcome.Activation = &replacement
		outcome.Rebound = true
		outcome.Prior = prior
		zap.S().Infow("硬件变化触发换绑", "serial_number", lic.SerialNumber, "old_machine_code", prior.MachineCode, "new_machine_code", req.MachineCode)
	}

	if lic.Status != model.LicenseStatusActive {
		return nil, license.NewError(license.KindInvalidState, "授權已不再有效。")
	}

	activation := outcome.Activation
	prior := outcome.Prior
	if prior == nil {
		prior = license.SnapshotOf(activation)
	}

	machineCodeUpdated := prior.MachineCode != req.MachineCode
	hardwareUpdated := (req.KeyproID != "" && req.KeyproID != prior.Fingerprint.KeyproID) ||
		(req.MotherboardID != "" && req.MotherboardID != prior.Fingerprint.MotherboardID) ||
		(req.DiskID != "" && req.DiskID != prior.Fingerprint.DiskID)

	err = e.db.Transaction(func(tx *gorm.DB) error {
		activation.LastValidatedAt = &now
		activation.IPAddress = meta.IPAddress
		if err := tx.Save(activation).Error; err != nil {
			return err
		}

		ctx := EventContext{License: lic, Activation: activation, Request: req, IPAddress: meta.IPAddress, UserAgent: meta.UserAgent}
		if err := e.recorder.RecordNormalValidation(tx, ctx); err != nil {
			return err
		}
		if machineCodeUpdated || hardwareUpdated {
			if err := e.recorder.RecordValidationHardwareChange(tx, ctx, prior, machineCodeUpdated, hardwareUpdated); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// KeyPro 降级检测：原绑定有效但本次缺失，硬盘或主板仍匹配则放行并打上降级标记
	var degradedAt *time.Time
	if license.IsValidKeypro(activation.KeyproID) && activation.KeyproID != "" &&
		!license.IsValidKeypro(req.KeyproID) {
		diskMatch := activation.DiskID != "" && req.DiskID != "" && activation.DiskID == req.DiskID
		motherboardMatch := activation.MotherboardID != "" && req.MotherboardID != "" &&
			activation.MotherboardID == req.MotherboardID
		if diskMatch || motherboardMatch {
			degradedAt = &now
		}
	}

	hardwareIDs := hardwareIDMap(
		firstNonEmpty(req.KeyproID, activation.KeyproID),
		firstNonEmpty(req.MotherboardID, activation.MotherboardID),
		firstNonEmpty(req.DiskID, activation.DiskID),
	)

	content, err := e.codec.Encode(license.PayloadInput{
		License:     lic,
		MachineCode: activation.MachineCode,
		HardwareIDs: hardwareIDs,
		AppVersion:  req.AppVersion,
		DegradedAt:  degradedAt,
	})
	if err != nil {
		zap.S().Errorw("生成授权文件失败", "serial_number", lic.SerialNumber, "error", err)
		return nil, license.WrapError(license.KindCryptoFailure, "授權檔案生成失敗。", err)
	}

	resp := &model.ActivationResponse{
		Status:             "success",
		Message:            "授權驗證成功。",
		LicenseFileContent: content,
	}
	if machineCodeUpdated || hardwareUpdated {
		resp.HardwareUpdated = true
		resp.Message = "授權驗證成功。檢測到硬體變化，授權檔案已更新。"
	}
	return resp, nil
}

// Deactivate 停用流程：精确匹配机器码且状态为 active 的记录才可停用
func (e *Engine) Deactivate(req *model.ActivationRequest, meta RequestMeta) (*model.ActivationResponse, error) {
	unlock := e.locks.lock(req.SerialNumber)
	defer unlock()

	lic, err := e.findLicense(req.SerialNumber)
	if err != nil {
		return nil, err
	}

	var activation model.Activation
	err = e.db.Where("license_id = ? AND machine_code = ? AND status = ?",
		lic.ID, req.MachineCode, model.ActivationStatusActive).First(&activation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, license.NewError(license.KindNotFound, "No active license found for this machine.")
		}
		return nil, err
	}

	now := time.Now().UTC()
	err = e.db.Transaction(func(tx *gorm.DB) error {
		if err := license.Deactivate(&activation, now); err != nil {
			return err
		}
		if err := tx.Save(&activation).Error; err != nil {
			return err
		}
		ctx := EventContext{License: lic, Activation: &activation, Request: req, IPAddress: meta.IPAddress, UserAgent: meta.UserAgent}
		return e.recorder.RecordDeactivation(tx, ctx)
	})
	if err != nil {
		return nil, err
	}

	return &model.ActivationResponse{
		Status:  "success",
		Message: "License deactivated and freed up successfully.",
	}, nil
}

// LicenseFile 按许可证与机器码重新生成授权文件，供管理端下载。
// 内容与验证流程产出一致，重复生成除 IV 外等价
func (e *Engine) LicenseFile(licenseID uint, machineCode string) (string, *model.License, error) {
	var lic model.License
	err := e.db.Preload("Customer").First(&lic, licenseID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, license.NewError(license.KindNotFound, "License not found")
		}
		return "", nil, err
	}

	var activation model.Activation
	err = e.db.Where("license_id = ? AND machine_code = ? AND status = ?",
		lic.ID, machineCode, model.ActivationStatusActive).First(&activation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, license.NewError(license.KindNotFound, "No active license found for this machine.")
		}
		return "", nil, err
	}

	content, err := e.codec.Encode(license.PayloadInput{
		License:     &lic,
		MachineCode: activation.MachineCode,
		HardwareIDs: hardwareIDMap(activation.KeyproID, activation.MotherboardID, activation.DiskID),
		AppVersion:  activation.AppVersion,
	})
	if err != nil {
		zap.S().Errorw("生成授权文件失败", "serial_number", lic.SerialNumber, "error", err)
		return "", nil, license.WrapError(license.KindCryptoFailure, "授权文件生成失败", err)
	}
	return content, &lic, nil
}

func hardwareIDMap(keyproID, motherboardID, diskID string) map[string]string {
	ids := map[string]string{}
	if keyproID != "" {
		ids["keypro"] = keyproID
	}
	if motherboardID != "" {
		ids["motherboard"] = motherboardID
	}
	if diskID != "" {
		ids["disk"] = diskID
	}
	return ids
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
