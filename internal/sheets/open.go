package sheets

import (
	"context"
	"database/sql"
	"fmt"

	"smarthouse-data/internal/config"

	"go.uber.org/zap"
)

// Open 按配置创建后端；返回的 close 释放文件或连接
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Backend, func() error, error) {
	nop := func() error { return nil }

	switch cfg.Sheets.Backend {
	case config.BackendMemory:
		logger.Warn("using in-memory tabular store, data is lost on restart")
		return NewMemoryBackend(), nop, nil

	case config.BackendExcel:
		b, err := NewExcelBackend(cfg.Sheets.ExcelPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open workbook %s: %w", cfg.Sheets.ExcelPath, err)
		}
		return b, b.Close, nil

	case config.BackendHTTP:
		return NewHTTPBackend(cfg.Sheets.APIBaseURL, cfg.Sheets.SpreadsheetID, cfg.Sheets.APIToken, logger), nop, nil

	case config.BackendPostgres:
		db, err := sql.Open("postgres", cfg.Database.GetDSN())
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.Database.MaxConns > 0 {
			db.SetMaxOpenConns(cfg.Database.MaxConns)
		}
		if cfg.Database.MaxIdle > 0 {
			db.SetMaxIdleConns(cfg.Database.MaxIdle)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		b := NewPostgresBackend(db)
		if err := b.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return b, db.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", cfg.Sheets.Backend)
}

// GatewayOptions 配置 -> Gateway 参数
func GatewayOptions(cfg *config.SheetsConfig) Options {
	return Options{
		CallTimeout:    cfg.CallTimeout,
		MaxRetries:     cfg.MaxRetries,
		RetryBaseDelay: cfg.RetryBaseDelay,
		SessionTTL:     cfg.SessionTTL,
	}
}
