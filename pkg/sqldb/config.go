package sqldb

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// 支援的資料庫驅動
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Config 定義資料庫連線與連線池的配置
type Config struct {
	Driver string `yaml:"driver" envconfig:"DB_DRIVER"` // postgres (預設) 或 mysql
	// URL 有值時直接當作 DSN，忽略下面的 Host/Port...
	URL string `yaml:"url" envconfig:"DATABASE_URL"`

	Host     string `yaml:"host" envconfig:"DB_HOST"`         // 資料庫主機地址
	Port     int    `yaml:"port" envconfig:"DB_PORT"`         // 資料庫埠號 (postgres 5432 / mysql 3306)
	User     string `yaml:"user" envconfig:"DB_USER"`         // 使用者名稱
	Password string `yaml:"password" envconfig:"DB_PASSWORD"` // 密碼
	DBName   string `yaml:"dbname" envconfig:"DB_NAME"`       // 資料庫名稱

	// 連線池設定 (Connection Pool)
	MaxOpenConns    int           `yaml:"max_open_conns" envconfig:"MAX_CONNECTIONS"`   // 最大開啟連線數
	MaxIdleConns    int           `yaml:"max_idle_conns" envconfig:"DB_MAX_IDLE_CONNS"` // 最大閒置連線數
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" envconfig:"DB_CONN_MAX_LIFETIME"`

	// 啟動時連線重試
	ConnectRetries int           `yaml:"connect_retries" envconfig:"DB_CONNECT_RETRIES"`
	RetryInterval  time.Duration `yaml:"retry_interval" envconfig:"DB_RETRY_INTERVAL"`

	// GORM 設定
	LogLevel string `yaml:"log_level" envconfig:"DB_LOG_LEVEL"` // Log 等級: "silent", "error", "warn", "info"
}

// DSN (Data Source Name) 產生連線字串
//
// postgres: host=... port=... user=... password=... dbname=... sslmode=disable TimeZone=UTC
// mysql:    user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=UTC
func (c *Config) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	if c.Driver == DriverMySQL {
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			c.User,
			c.Password,
			c.Host,
			c.Port,
			c.DBName,
		)
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.DBName,
	)
}

// Dialector 依 Driver 選擇 GORM 方言
func (c *Config) Dialector() (gorm.Dialector, error) {
	switch c.Driver {
	case "", DriverPostgres:
		return postgres.Open(c.DSN()), nil
	case DriverMySQL:
		return mysql.Open(c.DSN()), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", c.Driver)
	}
}

// DriverName 正規化後的驅動名稱
func (c *Config) DriverName() string {
	if c.Driver == "" {
		return DriverPostgres
	}
	return c.Driver
}
