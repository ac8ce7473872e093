package main

import (
	"log"

	"license-server/internal/config"
	"license-server/internal/database"
	"license-server/internal/handler"
	"license-server/internal/license"
	"license-server/internal/middleware"
	"license-server/internal/service"
	"license-server/internal/util"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	zapLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer zapLogger.Sync()
	zap.ReplaceGlobals(zapLogger)

	// 初始化数据库
	database.InitDB(cfg.DataDir)
	util.InitJWT(cfg.JWTSecret)

	// 授权文件签名与加密
	cryptoCtx, err := license.LoadCryptoContext(cfg.PrivateKeyPath, cfg.LicenseAESKey)
	if err != nil {
		zap.L().Fatal("加载授权密钥失败", zap.Error(err))
	}
	engine := service.NewEngine(database.DB, license.NewCodec(cryptoCtx), cfg.DiskIDBlacklist)
	handler.InitEngine(engine)

	sheetSync, err := handler.InitSheetSync(cfg.EnableSheetSync, cfg.CredentialPath, cfg.SpreadsheetID, cfg.SheetName)
	if err != nil {
		zap.L().Warn("Google Sheet 同步初始化失败", zap.Error(err))
	}

	// 到期扫描排程
	sweeper := service.NewSweeper(database.DB, cfg.ExpirySweepSpec, sheetSync)
	sweeper.Start()
	defer sweeper.Stop()

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	// 中间件
	app.Use(logger.New())
	app.Use(cors.New())

	// 路由组
	api := app.Group("/api/v1")

	// 客户端公开路由
	public := api.Group("/public")
	public.Get("/health", handler.HandleHealth)
	public.Post("/activate", handler.HandleActivate)
	public.Post("/validate", handler.HandleValidate)
	public.Post("/deactivate", handler.HandleDeactivate)

	// 认证路由
	auth := api.Group("/auth")
	auth.Post("/validate-token", middleware.Auth(), handler.HandleValidateToken)
	auth.Post("/change-password", middleware.Auth(), handler.HandleChangePassword)

	// 用户路由
	users := api.Group("/users")
	users.Post("/register", handler.HandleUserRegister)
	users.Post("/login", handler.HandleUserLogin)
	users.Get("/info", middleware.Auth(), handler.HandleUserInfo)

	// 许可证管理路由
	licenses := api.Group("/licenses")
	licenses.Use(middleware.Auth(), middleware.AdminOnly())
	licenses.Get("/", handler.HandleGetAllLicenses)
	licenses.Post("/", handler.HandleLicenseCreate)
	licenses.Get("/statistics", handler.HandleLicenseStatistics)
	licenses.Get("/:id", handler.HandleGetLicense)
	licenses.Put("/:id", handler.HandleLicenseUpdate)
	licenses.Delete("/:id", handler.HandleLicenseDelete)
	licenses.Get("/:id/download", handler.HandleLicenseDownload)
	licenses.Post("/:id/renew", handler.HandleLicenseRenew)
	licenses.Post("/:id/activations", handler.HandleManualActivation)
	licenses.Get("/:id/activations", handler.HandleGetLicenseActivations)
	licenses.Get("/:id/events/unconfirmed", handler.HandleGetUnconfirmedEvents)
	licenses.Get("/:id/events/unconfirmed/count", handler.HandleCountUnconfirmedEvents)

	// 启用记录管理路由
	activations := api.Group("/activations")
	activations.Use(middleware.Auth(), middleware.AdminOnly())
	activations.Post("/:id/blacklist", handler.HandleBlacklistActivation)
	activations.Delete("/:id", handler.HandleActivationDelete)

	// 审计事件路由
	events := api.Group("/events")
	events.Use(middleware.Auth(), middleware.AdminOnly())
	events.Get("/", handler.HandleGetEventLogs)
	events.Get("/suspicious", handler.HandleGetSuspiciousEvents)
	events.Post("/export", handler.HandleExportSuspiciousEvents)
	events.Post("/:id/confirm", handler.HandleConfirmEvent)

	// 操作日志路由
	logs := api.Group("/logs")
	logs.Use(middleware.Auth(), middleware.AdminOnly())
	logs.Get("/", handler.HandleGetOperationLogs)

	zap.L().Info("服务启动", zap.String("addr", cfg.ListenAddr))
	log.Fatal(app.Listen(cfg.ListenAddr))
}
