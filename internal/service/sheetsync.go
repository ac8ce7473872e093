package service

import (
	"context"
	"fmt"
	"os"
	"time"

	"license-server/internal/model"

	"go.uber.org/zap"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetSyncService 把可疑审计事件同步到 Google Sheet，供客服排查。
// 未启用时为 nil，所有方法对 nil 安全
type SheetSyncService struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
}

func NewSheetSyncService(enableSync bool, credentialPath, spreadsheetID, sheetName string) (*SheetSyncService, error) {
	if !enableSync {
		return nil, nil
	}

	ctx := context.Background()

	// 读取凭证文件
	b, err := os.ReadFile(credentialPath)
	if err != nil {
		return nil, err
	}

	// 使用服务账号授权
	creds, err := google.CredentialsFromJSON(ctx, b, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("无法加载凭证: %v", err)
	}

	srv, err := sheets.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, err
	}

	return &SheetSyncService{
		service:       srv,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
	}, nil
}

func eventRow(ev *model.EventLog) []interface{} {
	return []interface{}{
		ev.ID,
		ev.SerialNumber,
		ev.EventType,
		ev.EventSubtype,
		ev.Severity,
		ev.MachineCode,
		ev.IPAddress,
		ev.IsConfirmed,
		ev.CreatedAt.Format(time.RFC3339),
	}
}

// SyncEvent 追加单条事件到工作表
func (s *SheetSyncService) SyncEvent(ev *model.EventLog) error {
	if s == nil {
		return nil
	}

	// 先检查工作表是否存在
	spreadsheet, err := s.service.Spreadsheets.Get(s.spreadsheetID).Do()
	if err != nil {
		zap.S().Errorw("获取 Spreadsheet 信息失败", "error", err)
		return fmt.Errorf("获取 Spreadsheet 信息失败: %v", err)
	}
	sheetExists := false
	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties.Title == s.sheetName {
			sheetExists = true
			break
		}
	}
	if !sheetExists {
		return fmt.Errorf("工作表'%s'不存在", s.sheetName)
	}

	valueRange := &sheets.ValueRange{Values: [][]interface{}{eventRow(ev)}}
	_, err = s.service.Spreadsheets.Values.Append(
		s.spreadsheetID,
		s.sheetName+"!A2:I",
		valueRange,
	).ValueInputOption("USER_ENTERED").Do()
	if err != nil {
		zap.S().Errorw("同步事件到 Google Sheet 失败", "event_id", ev.ID, "error", err)
		return fmt.Errorf("同步到 Google Sheet 失败: %v", err)
	}
	return nil
}

// BatchSyncEvents 批量追加事件
func (s *SheetSyncService) BatchSyncEvents(events []model.EventLog) error {
	if s == nil {
		return nil
	}

	var values [][]interface{}
	for i := range events {
		values = append(values, eventRow(&events[i]))
	}

	valueRange := &sheets.ValueRange{Values: values}
	_, err := s.service.Spreadsheets.Values.Append(
		s.spreadsheetID,
		s.sheetName+"!A2:I",
		valueRange,
	).ValueInputOption("USER_ENTERED").Do()
	if err != nil {
		zap.S().Errorw("批量同步事件失败", "error", err)
		return err
	}
	return nil
}
