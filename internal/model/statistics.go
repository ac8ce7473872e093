package model

// LicenseStatistics 许可证统计信息
type LicenseStatistics struct {
	TotalLicenses     int64 `json:"total_licenses"`
	PendingLicenses   int64 `json:"pending_licenses"`
	ActiveLicenses    int64 `json:"active_licenses"`
	ExpiredLicenses   int64 `json:"expired_licenses"`
	DisabledLicenses  int64 `json:"disabled_licenses"`
	ExpiringLicenses  int64 `json:"expiring_licenses"`
	TotalActivations  int64 `json:"total_activations"`
	ActiveActivations int64 `json:"active_activations"`
	BlacklistedCount  int64 `json:"blacklisted_count"`
	SuspiciousEvents  int64 `json:"suspicious_events"`
	UnconfirmedEvents int64 `json:"unconfirmed_events"`
}

// GetActivationRate 计算平均启用率
func (ls *LicenseStatistics) GetActivationRate() float64 {
	if ls.TotalLicenses == 0 {
		return 0
	}
	return float64(ls.ActiveLicenses) / float64(ls.TotalLicenses)
}
