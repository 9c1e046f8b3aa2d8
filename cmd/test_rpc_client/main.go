package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	grpc_adapter "github.com/JoeShih716/go-balance-ledger/internal/app/core/adapter/in/grpc"
	"github.com/JoeShih716/go-balance-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-balance-ledger/pkg/grpc"
	"github.com/JoeShih716/go-balance-ledger/pkg/logger"
)

// 壓測：對同一帳戶並行送出 N 筆金額 1 的入帳，最後檢查餘額 == 初始 + 成功筆數
func main() {
	target := flag.String("target", "localhost:50051", "ledger gRPC address")
	accountID := flag.Int64("account", 1, "account to credit")
	total := flag.Int("n", 10000, "number of credits")
	concurrency := flag.Int("c", 200, "max in-flight requests")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall deadline")
	flag.Parse()

	log := logger.New(logger.Config{Level: "info", Prefix: "loadtest"}, os.Stdout)

	pool := grpc.NewPool()
	defer pool.Close()
	conn, err := pool.GetConnection(*target)
	if err != nil {
		log.Error("did not connect", slog.Any("error", err))
		os.Exit(1)
	}
	client := grpc_adapter.NewClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	before, err := client.GetStatement(ctx, *accountID)
	if err != nil {
		log.Error("read initial statement", slog.Any("error", err))
		os.Exit(1)
	}

	var applied, busy, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(*concurrency)

	startTime := time.Now()
	for i := 0; i < *total; i++ {
		idx := i
		g.Go(func() error {
			_, err := client.ApplyMovement(gctx, *accountID, domain.MovementRequest{
				Amount:      1,
				Kind:        "c",
				Description: "load",
			})
			switch {
			case err == nil:
				applied.Add(1)
			case errors.Is(err, domain.ErrBusy):
				busy.Add(1)
			default:
				failed.Add(1)
				if idx%1000 == 0 {
					log.Warn("credit failed", slog.Int("idx", idx), slog.Any("error", err))
				}
			}
			// 個別失敗不中斷其他請求
			return nil
		})
	}
	_ = g.Wait()
	elapsed := time.Since(startTime)

	after, err := client.GetStatement(ctx, *accountID)
	if err != nil {
		log.Error("read final statement", slog.Any("error", err))
		os.Exit(1)
	}

	expected := before.Balance + applied.Load()
	fmt.Printf("Completed %d requests in %v\n", *total, elapsed)
	fmt.Printf("TPS: %.2f\n", float64(*total)/elapsed.Seconds())
	fmt.Printf("applied=%d busy=%d failed=%d\n", applied.Load(), busy.Load(), failed.Load())
	fmt.Printf("balance %d -> %d (expected %d)\n", before.Balance, after.Balance, expected)
	if after.Balance != expected {
		log.Error("balance mismatch", slog.Int64("expected", expected), slog.Int64("actual", after.Balance))
		os.Exit(1)
	}
}
