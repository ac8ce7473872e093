package model

// ActivationRequest 激活/验证/停用共用的请求格式，字段名与客户端约定一致
type ActivationRequest struct {
	SerialNumber  string `json:"serial_number" validate:"required,max=255"`
	MachineCode   string `json:"machine_code" validate:"required,max=255"`
	KeyproID      string `json:"keypro_id" validate:"max=255"`
	MotherboardID string `json:"motherboard_id" validate:"max=255"`
	DiskID        string `json:"disk_id" validate:"max=255"`
	AppVersion    string `json:"app_version" validate:"max=50"`
}

// ActivationResponse 激活/验证的响应
type ActivationResponse struct {
	Status             string `json:"status"`
	Message            string `json:"message"`
	LicenseFileContent string `json:"license_file_content,omitempty"`
	HardwareUpdated    bool   `json:"hardware_updated,omitempty"`
}

// LicenseInput 管理端创建/更新许可证的输入
type LicenseInput struct {
	CustomerID     uint     `json:"customer_id" validate:"required"`
	ProductID      uint     `json:"product_id" validate:"required"`
	Features       []string `json:"features"`
	ExpiresAt      string   `json:"expires_at"`
	MaxActivations int      `json:"max_activations" validate:"omitempty,min=1"`
	ConnectionType string   `json:"connection_type" validate:"omitempty,oneof=network standalone"`
	Notes          string   `json:"notes"`
}
