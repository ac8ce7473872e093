package handler

import (
	"time"

	"license-server/internal/license"
	"license-server/internal/model"
	"license-server/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var (
	engine    *service.Engine
	sheetSync *service.SheetSyncService
	validate  = validator.New()
)

// InitEngine 注入核心引擎，main 启动时调用
func InitEngine(e *service.Engine) {
	engine = e
}

func InitSheetSync(enableSync bool, credentialPath, spreadsheetID, sheetName string) (*service.SheetSyncService, error) {
	var err error
	sheetSync, err = service.NewSheetSyncService(enableSync, credentialPath, spreadsheetID, sheetName)
	return sheetSync, err
}

// HandleHealth 健康检查
func HandleHealth(c *fiber.Ctx) error {
	// 使用 UTC 时间，避免泄露时区信息
	return c.JSON(fiber.Map{
		"status":       "ok",
		"message":      "Public API is healthy",
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"uptime_check": true,
	})
}

func parseActivationRequest(c *fiber.Ctx) (*model.ActivationRequest, error) {
	req := new(model.ActivationRequest)
	if err := c.BodyParser(req); err != nil {
		return nil, license.NewError(license.KindValidationError, "无效的输入数据")
	}
	if err := validate.Struct(req); err != nil {
		return nil, license.WrapError(license.KindValidationError, "请求字段校验失败", err)
	}
	return req, nil
}

func requestMeta(c *fiber.Ctx) service.RequestMeta {
	return service.RequestMeta{
		IPAddress: c.IP(),
		UserAgent: c.Get("User-Agent"),
	}
}

// respondError 把业务错误翻译成对应的 HTTP 状态码
func respondError(c *fiber.Ctx, err error) error {
	if e := license.AsError(err); e != nil {
		return c.Status(e.HTTPStatus()).JSON(fiber.Map{
			"error": e.Message,
		})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": err.Error(),
	})
}

// HandleActivate 激活：序号+机器码绑定，返回授权文件
func HandleActivate(c *fiber.Ctx) error {
	req, err := parseActivationRequest(c)
	if err != nil {
		return respondError(c, err)
	}

	resp, err := engine.Activate(req, requestMeta(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(resp)
}

// HandleValidate 验证既有绑定并取得最新授权文件
func HandleValidate(c *fiber.Ctx) error {
	req, err := parseActivationRequest(c)
	if err != nil {
		return respondError(c, err)
	}

	resp, err := engine.Validate(req, requestMeta(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(resp)
}

// HandleDeactivate 停用指定机器的绑定，释放一个启用名额
func HandleDeactivate(c *fiber.Ctx) error {
	req, err := parseActivationRequest(c)
	if err != nil {
		return respondError(c, err)
	}

	resp, err := engine.Deactivate(req, requestMeta(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(resp)
}
