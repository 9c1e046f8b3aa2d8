package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/JoeShih716/go-balance-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-balance-ledger/pkg/logger"
	"github.com/JoeShih716/go-balance-ledger/pkg/sqldb"
)

// LedgerType 使用哪種帳本引擎
type LedgerType string

const (
	LedgerTypeSQL   LedgerType = "sql"   // Level 0: 資料庫交易 + row lock
	LedgerTypeMutex LedgerType = "mutex" // Level 1: 記憶體 + 每帳戶一把鎖
	LedgerTypeLMAX  LedgerType = "lmax"  // Level 2: 記憶體 + 每帳戶單一寫入者
)

// envPrefix 環境變數前綴，例如 LEDGER_HTTP_PORT；
// 有 envconfig tag 的欄位也會讀不帶前綴的名稱 (PORT, DATABASE_URL, MAX_CONNECTIONS)
const envPrefix = "LEDGER"

type Config struct {
	HTTP     HTTPConfig    `yaml:"http"`
	GRPC     GRPCConfig    `yaml:"grpc"`
	Ledger   LedgerConfig  `yaml:"ledger"`
	Database sqldb.Config  `yaml:"database"`
	Log      logger.Config `yaml:"log"`
	Seed     []SeedAccount `yaml:"seed" ignored:"true"`
}

type HTTPConfig struct {
	Port      int  `yaml:"port" envconfig:"PORT"`
	AccessLog bool `yaml:"access_log" envconfig:"ACCESS_LOG"`
}

type GRPCConfig struct {
	Port int `yaml:"port" envconfig:"GRPC_PORT"`
}

type LedgerConfig struct {
	Engine      LedgerType    `yaml:"engine" envconfig:"ENGINE"`
	LockTimeout time.Duration `yaml:"lock_timeout" envconfig:"LOCK_TIMEOUT"`
	BusyRetries uint64        `yaml:"busy_retries" envconfig:"BUSY_RETRIES"`
	// 空字串代表記憶體引擎不寫 WAL
	WALPath   string `yaml:"wal_path" envconfig:"WAL_PATH"`
	InboxSize int    `yaml:"inbox_size" envconfig:"INBOX_SIZE"`
}

// SeedAccount 啟動時建立的帳戶
type SeedAccount struct {
	ID      int64 `yaml:"id"`
	Limit   int64 `yaml:"limit"`
	Balance int64 `yaml:"balance"`
}

func defaultSeed() []SeedAccount {
	return []SeedAccount{
		{ID: 1, Limit: 100000},
		{ID: 2, Limit: 80000},
		{ID: 3, Limit: 1000000},
		{ID: 4, Limit: 10000000},
		{ID: 5, Limit: 500000},
	}
}

// loadConfig 依序套用 yaml 檔、.env、環境變數，最後補上預設值
// 設定檔不存在時只用環境變數與預設值
func loadConfig(path string) (Config, error) {
	var cfg Config

	cfgData, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(cfgData, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("apply env overrides: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 3000
	}
	if cfg.GRPC.Port == 0 {
		cfg.GRPC.Port = 50051
	}
	if cfg.Ledger.Engine == "" {
		cfg.Ledger.Engine = LedgerTypeSQL
	}
	if cfg.Ledger.LockTimeout == 0 {
		cfg.Ledger.LockTimeout = 2 * time.Second
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = sqldb.DriverPostgres
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 15
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = cfg.Database.MaxOpenConns
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 30 * time.Minute
	}
	if cfg.Database.ConnectRetries == 0 {
		cfg.Database.ConnectRetries = 10
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if len(cfg.Seed) == 0 {
		cfg.Seed = defaultSeed()
	}
}

func (c *Config) validate() error {
	switch c.Ledger.Engine {
	case LedgerTypeSQL, LedgerTypeMutex, LedgerTypeLMAX:
	default:
		return fmt.Errorf("invalid ledger engine %q", c.Ledger.Engine)
	}
	for _, acc := range c.Seed {
		if acc.Limit < 0 || acc.Balance < -acc.Limit {
			return fmt.Errorf("seed account %d: balance %d below limit %d", acc.ID, acc.Balance, acc.Limit)
		}
	}
	return nil
}

// hasDatabase 記憶體引擎只有在設定了資料庫時才從資料庫載入帳戶
func (c *Config) hasDatabase() bool {
	return c.Database.URL != "" || c.Database.Host != ""
}

func (c *Config) seedAccounts() []*domain.Account {
	accounts := make([]*domain.Account, 0, len(c.Seed))
	for _, s := range c.Seed {
		accounts = append(accounts, domain.NewAccount(s.ID, s.Limit, s.Balance))
	}
	return accounts
}
