package service

import (
	"time"

	"license-server/internal/license"
	"license-server/internal/model"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Sweeper 后台排程：每日把已过期的 active 许可证翻成 expired，
// 以及导出可疑事件到 Google Sheet。任务可重复执行，失败只记日志不中断进程
type Sweeper struct {
	db        *gorm.DB
	cron      *cron.Cron
	sweepSpec string
	sheetSync *SheetSyncService
}

func NewSweeper(db *gorm.DB, sweepSpec string, sheetSync *SheetSyncService) *Sweeper {
	return &Sweeper{
		db:        db,
		cron:      cron.New(cron.WithLocation(time.UTC)),
		sweepSpec: sweepSpec,
		sheetSync: sheetSync,
	}
}

func (s *Sweeper) Start() {
	_, err := s.cron.AddFunc(s.sweepSpec, s.SweepExpiredLicenses)
	if err != nil {
		zap.S().Errorw("注册到期扫描任务失败", "error", err)
	}

	if s.sheetSync != nil {
		_, err = s.cron.AddFunc(s.sweepSpec, s.ExportSuspiciousEvents)
		if err != nil {
			zap.S().Errorw("注册事件导出任务失败", "error", err)
		}
	}

	s.cron.Start()
	zap.S().Info("后台排程已启动")
}

func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	zap.S().Info("后台排程已停止")
}

// SweepExpiredLicenses 扫描 expires_at 已过的 active 许可证并标记过期。
// 验证流程不直接读 expires_at，过期生效完全依赖这里的扫描
func (s *Sweeper) SweepExpiredLicenses() {
	defer func() {
		if r := recover(); r != nil {
			zap.S().Errorw("到期扫描任务异常", "panic", r)
		}
	}()

	now := time.Now().UTC()
	var expired []model.License
	err := s.db.Where("status = ? AND expires_at < ?", model.LicenseStatusActive, now).Find(&expired).Error
	if err != nil {
		zap.S().Errorw("查询过期许可证失败", "error", err)
		return
	}
	if len(expired) == 0 {
		zap.S().Info("没有需要处理的过期许可证")
		return
	}

	updated := 0
	for i := range expired {
		l := &expired[i]
		if err := license.MarkExpired(l); err != nil {
			zap.S().Warnw("标记过期被状态机拒绝", "serial_number", l.SerialNumber, "error", err)
			continue
		}
		if err := s.db.Save(l).Error; err != nil {
			zap.S().Errorw("保存过期状态失败", "serial_number", l.SerialNumber, "error", err)
			continue
		}
		updated++
	}
	zap.S().Infow("到期扫描完成", "found", len(expired), "updated", updated)
}

// ExportSuspiciousEvents 把近一天的可疑/严重事件同步到 Google Sheet
func (s *Sweeper) ExportSuspiciousEvents() {
	defer func() {
		if r := recover(); r != nil {
			zap.S().Errorw("事件导出任务异常", "panic", r)
		}
	}()

	events, err := GetSuspiciousEvents(s.db, 1, 500)
	if err != nil {
		zap.S().Errorw("查询可疑事件失败", "error", err)
		return
	}
	if len(events) == 0 {
		return
	}
	if err := s.sheetSync.BatchSyncEvents(events); err != nil {
		zap.S().Errorw("同步可疑事件到 Google Sheet 失败", "error", err)
		return
	}
	zap.S().Infow("可疑事件导出完成", "count", len(events))
}
