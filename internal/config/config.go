package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config 服务配置，全部来自环境变量
type Config struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8080"`
	DataDir    string `envconfig:"DATA_DIR" default:"data"`

	// JWT 配置
	JWTSecret string `envconfig:"JWT_SECRET" default:"a_very_secret_key"`

	// 授权文件加密配置
	// LICENSE_AES_KEY 为64位hex字符串（AES-256），必须与客户端一致
	LicenseAESKey   string   `envconfig:"LICENSE_AES_KEY" default:"3031323334353637383961626364656630313233343536373839616263646566"`
	PrivateKeyPath  string   `envconfig:"LICENSE_PRIVATE_KEY_PATH" default:"keys/private_key.pem"`
	DiskIDBlacklist []string `envconfig:"DISK_ID_BLACKLIST" default:"DAHA"`

	// 到期扫描排程（cron 表达式，UTC）
	ExpirySweepSpec string `envconfig:"EXPIRY_SWEEP_SPEC" default:"0 0 * * *"`

	// Google Sheet 同步配置
	EnableSheetSync bool   `envconfig:"ENABLE_SHEET_SYNC" default:"false"`
	CredentialPath  string `envconfig:"GOOGLE_CREDENTIAL_PATH" default:"credentials.json"`
	SpreadsheetID   string `envconfig:"SPREADSHEET_ID"`
	SheetName       string `envconfig:"SHEET_NAME" default:"events"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	return cfg, nil
}
