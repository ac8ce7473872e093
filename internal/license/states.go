package license

import (
	"fmt"
	"time"

	"license-server/internal/model"
)

// 许可证状态机：pending → active → {expired|disabled}，
// 续期可从任意状态回到 active

// CanActivate 只有 pending 或 active 的许可证可以接受激活请求
func CanActivate(l *model.License) bool {
	return l.Status == model.LicenseStatusPending || l.Status == model.LicenseStatusActive
}

// MarkActive 首次激活成功时 pending → active
func MarkActive(l *model.License) {
	if l.Status == model.LicenseStatusPending {
		l.Status = model.LicenseStatusActive
	}
}

// MarkExpired 到期扫描专用：active → expired
func MarkExpired(l *model.License) error {
	if l.Status != model.LicenseStatusActive {
		return NewError(KindInvalidState, fmt.Sprintf("许可证状态为 %s，无法标记过期", l.Status))
	}
	l.Status = model.LicenseStatusExpired
	return nil
}

// Disable 管理员停用，任意状态可进入，续期前不可恢复
func Disable(l *model.License) {
	l.Status = model.LicenseStatusDisabled
}

// Renew 续期一年：以 max(now, 原到期日) 为基准加一年，状态回到 active。
// 无论之前是 expired、disabled 还是 active 都适用
func Renew(l *model.License, now time.Time) {
	base := now
	if l.ExpiresAt != nil && l.ExpiresAt.After(now) {
		base = *l.ExpiresAt
	}
	newExpiry := base.AddDate(1, 0, 0)
	l.ExpiresAt = &newExpiry
	l.Status = model.LicenseStatusActive
}

// 启用记录状态机：active → {deactivated|blacklisted}，两者均为终态

// Deactivate active → deactivated
func Deactivate(a *model.Activation, now time.Time) error {
	if a.Status != model.ActivationStatusActive {
		return NewError(KindInvalidState, fmt.Sprintf("启用记录状态为 %s，无法停用", a.Status))
	}
	a.Status = model.ActivationStatusDeactivated
	a.DeactivatedAt = &now
	return nil
}

// CheckBlacklistGuard 拉黑前置条件：扣除此记录后，剩余 active 数量
// 仍需达到授权上限，否则等于悄悄释放一个配额，直接拒绝
func CheckBlacklistGuard(maxActivations, activeCount int, a *model.Activation) error {
	remaining := activeCount
	if a.Status == model.ActivationStatusActive {
		remaining = activeCount - 1
	}
	if maxActivations > remaining {
		return NewError(KindForbidden, fmt.Sprintf(
			"无法将此启用记录加入黑名单。扣除此记录后，授权数量(%d)仍大于已启用数量(%d)，此序号仍可注册，请先调整授权数量。",
			maxActivations, remaining))
	}
	return nil
}

// MarkBlacklisted active|deactivated → blacklisted，调用方需先通过 CheckBlacklistGuard
func MarkBlacklisted(a *model.Activation, now time.Time) error {
	if a.Status == model.ActivationStatusBlacklisted {
		return NewError(KindInvalidState, "启用记录已在黑名单中")
	}
	a.Status = model.ActivationStatusBlacklisted
	a.BlacklistedAt = &now
	return nil
}
