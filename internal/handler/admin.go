package handler

import (
	"fmt"
	"strconv"
	"time"

	"license-server/internal/database"
	"license-server/internal/license"
	"license-server/internal/model"
	"license-server/internal/service"

	"github.com/gofiber/fiber/v2"
)

// HandleLicenseCreate 创建许可证，序号自动生成
func HandleLicenseCreate(c *fiber.Ctx) error {
	input := new(model.LicenseInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "无效的输入数据",
		})
	}
	if err := validate.Struct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "请求字段校验失败",
		})
	}

	lic, err := service.CreateLicense(database.DB, input)
	if err != nil {
		return respondError(c, err)
	}

	userID, _ := c.Locals("userID").(uint)
	service.LogOperation(userID, "create", "license", lic.SerialNumber, input)

	return c.Status(fiber.StatusCreated).JSON(lic)
}

// HandleGetAllLicenses 获取许可证列表，支持状态筛选与分页
func HandleGetAllLicenses(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	pageSize, _ := strconv.Atoi(c.Query("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	db := database.DB.Model(&model.License{}).Preload("Customer").Preload("Product")
	if status := c.Query("status"); status != "" {
		db = db.Where("status = ?", status)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "获取许可证数据失败",
		})
	}

	var licenses []model.License
	if err := db.Order("created_at DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&licenses).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "获取许可证数据失败",
		})
	}

	return c.JSON(fiber.Map{
		"licenses": licenses,
		"total":    total,
		"page":     page,
		"size":     pageSize,
	})
}

func findLicenseByID(c *fiber.Ctx) (*model.License, error) {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return nil, license.NewError(license.KindValidationError, "无效的许可证ID")
	}
	var lic model.License
	if err := database.DB.Preload("Customer").Preload("Product").First(&lic, id).Error; err != nil {
		return nil, license.NewError(license.KindNotFound, "许可证不存在")
	}
	return &lic, nil
}

// HandleGetLicense 获取单个许可证详情
func HandleGetLicense(c *fiber.Ctx) error {
	lic, err := findLicenseByID(c)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(lic)
}

// HandleLicenseUpdate 更新许可证信息（序号除外）
func HandleLicenseUpdate(c *fiber.Ctx) error {
	lic, err := findLicenseByID(c)
	if err != nil {
		return respondError(c, err)
	}

	type UpdateInput struct {
		Status         string   `json:"status"`
		ExpiresAt      string   `json:"expires_at"`
		Features       []string `json:"features"`
		MaxActivations int      `json:"max_activations"`
		Notes          string   `json:"notes"`
	}
	input := new(UpdateInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "无效的输入数据",
		})
	}

	if input.Status != "" {
		lic.Status = input.Status
	}
	if input.ExpiresAt != "" {
		parsedTime, err := time.Parse(time.RFC3339, input.ExpiresAt)
		if err == nil {
			lic.ExpiresAt = &parsedTime
		}
	}
	if input.Features != nil {
		lic.Features = input.Features
	}
	if input.MaxActivations > 0 {
		lic.MaxActivations = input.MaxActivations
	}
	if input.Notes != "" {
		lic.Notes = input.Notes
	}
	lic.UpdatedAt = time.Now()

	if err := database.DB.Save(lic).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "更新许可证失败",
		})
	}

	userID, _ := c.Locals("userID").(uint)
	service.LogOperation(userID, "update", "license", lic.SerialNumber, input)

	return c.JSON(fiber.Map{
		"message": "许可证更新成功",
		"license": lic,
	})
}

// HandleLicenseDelete 删除许可证及其启用记录
func HandleLicenseDelete(c *fiber.Ctx) error {
	lic, err := findLicenseByID(c)
	if err != nil {
		return respondError(c, err)
	}

	tx := database.DB.Begin()
	if err := tx.Where("license_id = ?", lic.ID).Delete(&model.Activation{}).Error; err != nil {
		tx.Rollback()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "删除启用记录失败",
		})
	}
	if err := tx.Delete(lic).Error; err != nil {
		tx.Rollback()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "删除许可证失败",
		})
	}
	tx.Commit()

	userID, _ := c.Locals("userID").(uint)
	service.LogOperation(userID, "delete", "license", lic.SerialNumber, nil)

	return c.JSON(fiber.Map{
		"message": "许可证删除成功",
	})
}

// HandleLicenseDownload 重新生成指定机器的授权文件并以附件下载
func HandleLicenseDownload(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "无效的许可证ID",
		})
	}
	machineCode := c.Query("machine_code")
	if machineCode == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "缺少 machine_code 参数",
		})
	}

	content, lic, err := engine.LicenseFile(uint(id), machineCode)
	if err != nil {
		return respondError(c, err)
	}

	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s.lic"`, lic.SerialNumber))
	c.Set(fiber.HeaderContentType, "application/octet-stream")
	return c.SendString(content)
}

// HandleLicenseRenew 续期一年
func HandleLicenseRenew(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "无效的许可证ID",
		})
	}

	lic, err := service.RenewLicense(database.DB, uint(id))
	if err != nil {
		return respondError(c, err)
	}

	userID, _ := c.Locals("userID").(uint)
	service.LogOperation(userID, "renew", "license", lic.SerialNumber, fiber.Map{"expires_at": lic.ExpiresAt})

	return c.JSON(lic)
}

// HandleManualActivation 手动补登启用记录
func HandleManualActivation(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "无效的许可证ID",
		})
	}

	type ManualActivationInput struct {
		MachineCode string `json:"machine_code" validate:"required"`
	}
	input := new(ManualActivationInput)
	if err := c.BodyParser(input); err != nil || input.MachineCode == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "无效的输入数据",
		})
	}

	activation, err := service.ManualActivation(database.DB, uint(id), input.MachineCode)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(activation)
}

// HandleGetLicenseActivations 获取许可证的全部启用记录
func HandleGetLicenseActivations(c *fiber.Ctx) error {
	lic, err := findLicenseByID(c)
	if err != nil {
		return respondError(c, err)
	}

	var activations []model.Activation
	if err := database.DB.Where("license_id = ?", lic.ID).
		Order("activated_at DESC").Find(&activations).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "查询启用记录失败",
		})
	}
	return c.JSON(activations)
}

// HandleActivationDelete 删除启用记录（误登记时使用）
func HandleActivationDelete(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "无效的启用记录ID",
		})
	}

	var activation model.Activation
	if err := database.DB.First(&activation, id).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "启用记录不存在",
		})
	}
	if err := database.DB.Delete(&activation).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "删除启用记录失败",
		})
	}

	userID, _ := c.Locals("userID").(uint)
	service.LogOperation(userID, "delete", "activation", strconv.Itoa(int(activation.ID)), nil)

	return c.JSON(fiber.Map{
		"message": "启用记录删除成功",
	})
}

// HandleBlacklistActivation 把启用记录加入黑名单
func HandleBlacklistActivation(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "无效的启用记录ID",
		})
	}

	activation, err := service.BlacklistActivation(database.DB, uint(id))
	if err != nil {
		return respondError(c, err)
	}

	userID, _ := c.Locals("userID").(uint)
	service.LogOperation(userID, "blacklist", "activation", strconv.Itoa(int(activation.ID)), nil)

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": "Activation blacklisted successfully",
	})
}

// HandleGetEventLogs 查询审计事件，支持序号/严重等级/确认状态筛选
func HandleGetEventLogs(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	pageSize, _ := strconv.Atoi(c.Query("page_size", "50"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	db := database.DB.Model(&model.EventLog{})
	if serial := c.Query("serial_number"); serial != "" {
		db = db.Where("serial_number = ?", serial)
	}
	if severity := c.Query("severity"); severity != "" {
		db = db.Where("severity = ?", severity)
	}
	if confirmed := c.Query("is_confirmed"); confirmed != "" {
		db = db.Where("is_confirmed = ?", confirmed == "true")
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "查询事件总数失败",
		})
	}

	var events []model.EventLog
	if err := db.Order("created_at DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&events).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "查询事件失败",
		})
	}

	return c.JSON(fiber.Map{
		"events": events,
		"total":  total,
		"page":   page,
		"size":   pageSize,
	})
}

// HandleGetSuspiciousEvents 获取近期可疑事件
func HandleGetSuspiciousEvents(c *fiber.Ctx) error {
	days, _ := strconv.Atoi(c.Query("days", "7"))
	limit, _ := strconv.Atoi(c.Query("limit", "100"))

	events, err := service.GetSuspiciousEvents(database.DB, days, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "查询可疑事件失败",
		})
	}
	return c.JSON(fiber.Map{
		"events": events,
	})
}

// HandleGetUnconfirmedEvents 获取指定许可证的未确认事件
func HandleGetUnconfirmedEvents(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "无效的许可证ID",
		})
	}

	events, err := service.GetUnconfirmedEvents(database.DB, uint(id))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "查询未确认事件失败",
		})
	}
	return c.JSON(fiber.Map{
		"events": events,
	})
}

// HandleCountUnconfirmedEvents 获取指定许可证的未确认事件数量
func HandleCountUnconfirmedEvents(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "无效的许可证ID",
		})
	}

	count, err := service.CountUnconfirmedEvents(database.DB, uint(id))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "查询未确认事件数量失败",
		})
	}
	return c.JSON(fiber.Map{
		"count": count,
	})
}

// HandleConfirmEvent 确认事件，只允许确认一次
func HandleConfirmEvent(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "无效的事件ID",
		})
	}

	type ConfirmInput struct {
		ConfirmedBy string `json:"confirmed_by" validate:"required"`
	}
	input := new(ConfirmInput)
	if err := c.BodyParser(input); err != nil || input.ConfirmedBy == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "无效的输入数据",
		})
	}

	ev, err := service.ConfirmEvent(database.DB, uint(id), input.ConfirmedBy)
	if err != nil {
		return respondError(c, err)
	}

	userID, _ := c.Locals("userID").(uint)
	service.LogOperation(userID, "confirm", "event", strconv.Itoa(int(ev.ID)), fiber.Map{"confirmed_by": input.ConfirmedBy})

	return c.JSON(ev)
}

// HandleExportSuspiciousEvents 手动触发可疑事件导出
func HandleExportSuspiciousEvents(c *fiber.Ctx) error {
	days, _ := strconv.Atoi(c.Query("days", "1"))

	events, err := service.GetSuspiciousEvents(database.DB, days, 500)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "查询可疑事件失败",
		})
	}

	if sheetSync != nil {
		go sheetSync.BatchSyncEvents(events)
	}

	return c.JSON(fiber.Map{
		"message": "导出任务已提交",
		"count":   len(events),
	})
}

// HandleLicenseStatistics 处理许可证统计信息请求
func HandleLicenseStatistics(c *fiber.Ctx) error {
	stats, err := service.GetLicenseStatistics(database.DB)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "获取统计信息失败",
		})
	}
	return c.JSON(fiber.Map{
		"code":    200,
		"message": "success",
		"data":    stats,
	})
}
