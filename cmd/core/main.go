package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	grpc_adapter "github.com/JoeShih716/go-balance-ledger/internal/app/core/adapter/in/grpc"
	http_adapter "github.com/JoeShih716/go-balance-ledger/internal/app/core/adapter/in/http"
	database_adapter "github.com/JoeShih716/go-balance-ledger/internal/app/core/adapter/out/database"
	memory_adapter "github.com/JoeShih716/go-balance-ledger/internal/app/core/adapter/out/memory"
	"github.com/JoeShih716/go-balance-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-balance-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-balance-ledger/pkg/logger"
	"github.com/JoeShih716/go-balance-ledger/pkg/metrics"
	"github.com/JoeShih716/go-balance-ledger/pkg/sqldb"
	"github.com/JoeShih716/go-balance-ledger/pkg/wal"
)

const shutdownTimeout = 10 * time.Second

func main() {
	defaultPath := "config/config.yaml"
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		defaultPath = p
	}
	configPath := flag.String("config", defaultPath, "path to the yaml config file")
	flag.Parse()

	// 1. 載入設定
	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	log := logger.Setup(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("ledger exited with error", slog.Any("error", err))
		os.Exit(1)
	}
	log.Info("server exited")
}

func run(ctx context.Context, cfg Config, log *slog.Logger) error {
	// 2. 初始化帳本引擎
	ledger, cleanup, err := buildLedger(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	// 3. 初始化 UseCase
	collector := metrics.NewCollector()
	coreUseCase := usecase.NewCoreUseCase(ledger,
		usecase.WithBusyRetries(cfg.Ledger.BusyRetries),
		usecase.WithLogger(log),
		usecase.WithRecorder(collector),
	)

	// 4. 初始化 Adapters (Driving)
	appOpts := []http_adapter.AppOption{http_adapter.WithMetrics(collector.Handler())}
	if cfg.HTTP.AccessLog {
		appOpts = append(appOpts, http_adapter.WithAccessLog(os.Stdout))
	}
	app := http_adapter.NewApp(http_adapter.NewHandler(coreUseCase, log), appOpts...)

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(grpc_adapter.LoggingInterceptor(log)))
	grpc_adapter.RegisterLedgerServiceServer(grpcServer, grpc_adapter.NewGrpcServer(coreUseCase))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer) // 方便 grpcurl 測試

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	// 5. 啟動伺服器，收到訊號後 Graceful Shutdown
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting http server", slog.Int("port", cfg.HTTP.Port), slog.String("engine", string(cfg.Ledger.Engine)))
		return app.Listen(fmt.Sprintf(":%d", cfg.HTTP.Port))
	})
	g.Go(func() error {
		log.Info("starting grpc server", slog.Int("port", cfg.GRPC.Port))
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down servers")
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})
	return g.Wait()
}

// buildLedger 依設定建立帳本引擎，回傳的 cleanup 負責釋放 WAL / DB 連線
func buildLedger(ctx context.Context, cfg Config, log *slog.Logger) (usecase.Ledger, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (usecase.Ledger, func(), error) {
		cleanup()
		return nil, func() {}, err
	}

	var sqlLedger *database_adapter.SQLLedger
	if cfg.Ledger.Engine == LedgerTypeSQL || cfg.hasDatabase() {
		client, err := sqldb.NewClient(ctx, cfg.Database, log)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() { _ = client.Close() })
		log.Info("connected to database", slog.String("driver", client.Driver()))

		sqlLedger = database_adapter.NewSQLLedger(client, database_adapter.WithLockTimeout(cfg.Ledger.LockTimeout))
		if err := sqlLedger.Migrate(ctx); err != nil {
			return fail(err)
		}
		if err := sqlLedger.Seed(ctx, cfg.seedAccounts()); err != nil {
			return fail(err)
		}
	}

	if cfg.Ledger.Engine == LedgerTypeSQL {
		return sqlLedger, cleanup, nil
	}

	// 記憶體引擎的初始帳戶：有資料庫就從資料庫載入，否則用 seed
	accounts := make(map[int64]*domain.Account)
	if sqlLedger != nil {
		loaded, err := sqlLedger.LoadAllAccounts(ctx)
		if err != nil {
			return fail(err)
		}
		accounts = loaded
	} else {
		for _, acc := range cfg.seedAccounts() {
			accounts[acc.ID] = acc
		}
	}
	log.Info("loaded accounts", slog.Int("count", len(accounts)))

	var walFile *wal.WAL
	if cfg.Ledger.WALPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Ledger.WALPath), 0o755); err != nil {
			return fail(fmt.Errorf("create wal dir: %w", err))
		}
		w, err := wal.NewWAL(cfg.Ledger.WALPath)
		if err != nil {
			return fail(err)
		}
		walFile = w
		closers = append(closers, func() { _ = w.Close() })
	}

	opts := []memory_adapter.Option{
		memory_adapter.WithLockTimeout(cfg.Ledger.LockTimeout),
		memory_adapter.WithInboxSize(cfg.Ledger.InboxSize),
		memory_adapter.WithLogger(log),
	}
	switch cfg.Ledger.Engine {
	case LedgerTypeMutex:
		mutexLedger, err := memory_adapter.NewMutexLedger(accounts, walFile, opts...)
		if err != nil {
			return fail(err)
		}
		return mutexLedger, cleanup, nil
	case LedgerTypeLMAX:
		lmaxLedger, err := memory_adapter.NewLMAXLedger(accounts, walFile, opts...)
		if err != nil {
			return fail(err)
		}
		lmaxLedger.Start(ctx)
		// 先停引擎 (處理完排隊中的異動) 再關 WAL
		closers = append(closers, lmaxLedger.Close)
		return lmaxLedger, cleanup, nil
	default:
		return fail(fmt.Errorf("invalid ledger engine %q", cfg.Ledger.Engine))
	}
}
