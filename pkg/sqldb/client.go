package sqldb

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Client 封裝 GORM DB 實例
type Client struct {
	db     *gorm.DB
	driver string
}

// NewClient 建立並回傳一個新的資料庫客戶端實例 (GORM)
//
// 資料庫可能比服務晚啟動 (docker compose)，連線失敗時會依 ConnectRetries 重試。
//
// 參數:
//
//	ctx: 上下文，取消時停止重試
//	cfg: Config - 連線配置
//	log: 連線重試與 GORM 的 log 輸出
//
// 回傳值:
//
//	*Client: 封裝後的客戶端
//	error: 若連線失敗則回傳錯誤
func NewClient(ctx context.Context, cfg Config, log *slog.Logger) (*Client, error) {
	dialector, err := cfg.Dialector()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	gormConfig := &gorm.Config{
		// 預設跳過事務模式；需要原子性的地方自己開 Transaction
		SkipDefaultTransaction: true,
		Logger:                 newLogger(cfg.LogLevel, log),
	}

	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	retries := cfg.ConnectRetries
	if retries < 0 {
		retries = 0
	}

	var db *gorm.DB
	attempt := 0
	connect := func() error {
		attempt++
		opened, err := gorm.Open(dialector, gormConfig)
		if err != nil {
			return err
		}
		sqlDB, err := opened.DB()
		if err != nil {
			return backoff.Permanent(err)
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			_ = sqlDB.Close()
			return err
		}
		db = opened
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), uint64(retries)), ctx)
	err = backoff.RetryNotify(connect, policy, func(err error, wait time.Duration) {
		log.Warn("database not ready, retrying",
			slog.String("driver", cfg.DriverName()),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.Any("error", err))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s after %d attempts: %w", cfg.DriverName(), attempt, err)
	}

	// 取得底層 sql.DB 物件以設定連線池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.db: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return &Client{db: db, driver: cfg.DriverName()}, nil
}

// NewClientFromDB 包裝一個已經開好的 *gorm.DB (測試或外部管理連線時使用)
func NewClientFromDB(db *gorm.DB, driver string) *Client {
	if driver == "" {
		driver = DriverPostgres
	}
	return &Client{db: db, driver: driver}
}

// DB 回傳底層的 *gorm.DB 實例，供業務邏輯層使用
func (c *Client) DB() *gorm.DB {
	return c.db
}

// Driver 回傳 postgres 或 mysql
func (c *Client) Driver() string {
	return c.driver
}

// Close 關閉資料庫連線
func (c *Client) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// slogWriter 讓 GORM logger 輸出到 slog
type slogWriter struct {
	log *slog.Logger
}

func (w slogWriter) Printf(format string, args ...any) {
	w.log.Info(fmt.Sprintf(format, args...), slog.String("component", "gorm"))
}

// newLogger 根據配置建立 GORM Logger
func newLogger(level string, log *slog.Logger) logger.Interface {
	var logLevel logger.LogLevel
	switch level {
	case "info":
		logLevel = logger.Info
	case "warn":
		logLevel = logger.Warn
	case "error":
		logLevel = logger.Error
	case "silent":
		logLevel = logger.Silent
	default:
		logLevel = logger.Error // 預設只記錄錯誤
	}

	return logger.New(slogWriter{log: log}, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logLevel,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}
