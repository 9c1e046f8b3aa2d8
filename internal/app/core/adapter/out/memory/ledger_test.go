package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-balance-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-balance-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-balance-ledger/pkg/wal"
)

type engineFactory func(t *testing.T, accounts map[int64]*domain.Account, w *wal.WAL, opts ...Option) usecase.Ledger

func engines() map[string]engineFactory {
	return map[string]engineFactory{
		"mutex": func(t *testing.T, accounts map[int64]*domain.Account, w *wal.WAL, opts ...Option) usecase.Ledger {
			l, err := NewMutexLedger(accounts, w, opts...)
			require.NoError(t, err)
			return l
		},
		"lmax": func(t *testing.T, accounts map[int64]*domain.Account, w *wal.WAL, opts ...Option) usecase.Ledger {
			l, err := NewLMAXLedger(accounts, w, opts...)
			require.NoError(t, err)
			ctx, cancel := context.WithCancel(context.Background())
			l.Start(ctx)
			t.Cleanup(func() {
				cancel()
				l.Close()
			})
			return l
		},
	}
}

func seed(accounts ...*domain.Account) map[int64]*domain.Account {
	out := make(map[int64]*domain.Account, len(accounts))
	for _, a := range accounts {
		out[a.ID] = a
	}
	return out
}

func debit(amount int64, desc string) domain.Order {
	return domain.Order{Amount: amount, Kind: domain.KindDebit, Description: desc}
}

func credit(amount int64, desc string) domain.Order {
	return domain.Order{Amount: amount, Kind: domain.KindCredit, Description: desc}
}

func TestLedger_Scenarios(t *testing.T) {
	for name, newLedger := range engines() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ledger := newLedger(t, seed(domain.NewAccount(1, 100, 0), domain.NewAccount(2, 0, 0)), nil)

			// A: 透支額度內扣款
			state, err := ledger.ApplyMovement(ctx, 1, debit(50, "rent"))
			require.NoError(t, err)
			assert.Equal(t, domain.AccountState{Balance: -50, Limit: 100, MovementID: 1}, state)

			// B: 超過額度，完全不生效
			_, err = ledger.ApplyMovement(ctx, 1, debit(60, "extra"))
			assert.ErrorIs(t, err, domain.ErrLimitExceeded)
			stmt, err := ledger.GetStatement(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, int64(-50), stmt.Balance)
			assert.Len(t, stmt.Movements, 1)

			// C: 入帳
			state, err = ledger.ApplyMovement(ctx, 1, credit(30, "refund"))
			require.NoError(t, err)
			assert.Equal(t, int64(-20), state.Balance)

			stmt, err = ledger.GetStatement(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, int64(-20), stmt.Balance)
			assert.Equal(t, int64(100), stmt.Limit)
			require.Len(t, stmt.Movements, 2)
			assert.Equal(t, "refund", stmt.Movements[0].Description)
			assert.Equal(t, domain.KindCredit, stmt.Movements[0].Kind)
			assert.Equal(t, "rent", stmt.Movements[1].Description)

			// D: 額度為 0 的帳戶不能扣款
			_, err = ledger.ApplyMovement(ctx, 2, debit(1, "x"))
			assert.ErrorIs(t, err, domain.ErrLimitExceeded)

			// E: 不存在的帳戶
			_, err = ledger.ApplyMovement(ctx, 99, credit(1, "x"))
			assert.ErrorIs(t, err, domain.ErrAccountNotFound)
			_, err = ledger.GetStatement(ctx, 99)
			assert.ErrorIs(t, err, domain.ErrAccountNotFound)
		})
	}
}

func TestLedger_ConcurrentCredits(t *testing.T) {
	const n = 200
	for name, newLedger := range engines() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ledger := newLedger(t, seed(domain.NewAccount(1, 0, 1000), domain.NewAccount(2, 0, 0)), nil)

			var wg sync.WaitGroup
			errs := make(chan error, 2*n)
			for i := 0; i < n; i++ {
				wg.Add(2)
				go func() {
					defer wg.Done()
					_, err := ledger.ApplyMovement(ctx, 1, credit(1, "c"))
					errs <- err
				}()
				go func() {
					defer wg.Done()
					_, err := ledger.GetStatement(ctx, 2)
					errs <- err
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			accounts, err := ledger.LoadAllAccounts(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(1000+n), accounts[1].Balance)
			assert.Equal(t, int64(0), accounts[2].Balance)
		})
	}
}

func TestLedger_ReadersNeverSeeHalfAppliedMovement(t *testing.T) {
	const writers = domain.StatementSize
	for name, newLedger := range engines() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ledger := newLedger(t, seed(domain.NewAccount(1, 5, 0)), nil)

			done := make(chan struct{})
			var readers sync.WaitGroup
			var mu sync.Mutex
			var bad []string
			for r := 0; r < 4; r++ {
				readers.Add(1)
				go func() {
					defer readers.Done()
					for {
						select {
						case <-done:
							return
						default:
						}
						stmt, err := ledger.GetStatement(ctx, 1)
						if err != nil {
							mu.Lock()
							bad = append(bad, err.Error())
							mu.Unlock()
							return
						}
						// 每筆入帳都是 1，餘額必須等於看得到的異動筆數
						if stmt.Balance != int64(len(stmt.Movements)) || stmt.Balance < -stmt.Limit {
							mu.Lock()
							bad = append(bad, fmt.Sprintf("balance=%d movements=%d", stmt.Balance, len(stmt.Movements)))
							mu.Unlock()
						}
					}
				}()
			}

			var wg sync.WaitGroup
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := ledger.ApplyMovement(ctx, 1, credit(1, "c"))
					assert.NoError(t, err)
				}()
			}
			wg.Wait()
			close(done)
			readers.Wait()

			assert.Empty(t, bad)
			stmt, err := ledger.GetStatement(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, int64(writers), stmt.Balance)
			assert.Len(t, stmt.Movements, writers)
		})
	}
}

func TestLedger_WALFailureLeavesNoPartialState(t *testing.T) {
	for name, newLedger := range engines() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			w, err := wal.NewWAL(filepath.Join(t.TempDir(), "ledger.wal"))
			require.NoError(t, err)
			ledger := newLedger(t, seed(domain.NewAccount(1, 100, 0)), w, WithLockTimeout(50*time.Millisecond))

			_, err = ledger.ApplyMovement(ctx, 1, debit(10, "ok"))
			require.NoError(t, err)
			require.NoError(t, w.Close())

			_, err = ledger.ApplyMovement(ctx, 1, debit(20, "lost"))
			assert.ErrorIs(t, err, domain.ErrWALWriteFailed)
			assert.ErrorIs(t, err, domain.ErrStorageFault)
			assert.False(t, domain.IsRetryable(err))

			stmt, err := ledger.GetStatement(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, int64(-10), stmt.Balance)
			require.Len(t, stmt.Movements, 1)
			assert.Equal(t, "ok", stmt.Movements[0].Description)

			// 獨占權已釋放：下一筆仍是儲存錯誤而不是 Busy
			_, err = ledger.ApplyMovement(ctx, 1, credit(1, "again"))
			assert.ErrorIs(t, err, domain.ErrStorageFault)
			assert.NotErrorIs(t, err, domain.ErrBusy)
		})
	}
}

func TestLedger_ConcurrentDebitsNeverPassLimit(t *testing.T) {
	const n = 100
	for name, newLedger := range engines() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ledger := newLedger(t, seed(domain.NewAccount(1, 50, 0)), nil)

			var wg sync.WaitGroup
			var mu sync.Mutex
			applied, rejected := 0, 0
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := ledger.ApplyMovement(ctx, 1, debit(1, "d"))
					mu.Lock()
					defer mu.Unlock()
					if err == nil {
						applied++
						return
					}
					assert.ErrorIs(t, err, domain.ErrLimitExceeded)
					rejected++
				}()
			}
			wg.Wait()

			assert.Equal(t, 50, applied)
			assert.Equal(t, n-50, rejected)
			stmt, err := ledger.GetStatement(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, int64(-50), stmt.Balance)
		})
	}
}

func TestLedger_StatementIsNewestFirstAndCapped(t *testing.T) {
	for name, newLedger := range engines() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			var mu sync.Mutex
			tick := 0
			clock := func() time.Time {
				mu.Lock()
				defer mu.Unlock()
				tick++
				return base.Add(time.Duration(tick) * time.Second)
			}
			ledger := newLedger(t, seed(domain.NewAccount(1, 0, 0)), nil, WithClock(clock))

			for i := 1; i <= 12; i++ {
				_, err := ledger.ApplyMovement(ctx, 1, credit(int64(i), fmt.Sprintf("m%d", i)))
				require.NoError(t, err)
			}

			stmt, err := ledger.GetStatement(ctx, 1)
			require.NoError(t, err)
			require.Len(t, stmt.Movements, domain.StatementSize)
			assert.Equal(t, int64(78), stmt.Balance)
			for i, mv := range stmt.Movements {
				assert.Equal(t, fmt.Sprintf("m%d", 12-i), mv.Description)
				if i > 0 {
					prev := stmt.Movements[i-1]
					assert.False(t, mv.CreatedAt.After(prev.CreatedAt))
					assert.Less(t, mv.ID, prev.ID)
				}
			}
			assert.True(t, stmt.AsOf.After(stmt.Movements[0].CreatedAt))
		})
	}
}

func TestLedger_CreatedAtNeverGoesBackwards(t *testing.T) {
	ctx := context.Background()
	times := []time.Time{
		time.Date(2024, 1, 1, 0, 0, 10, 0, time.UTC),
		time.Date(2024, 1, 1, 0, 0, 5, 0, time.UTC),
	}
	i := 0
	clock := func() time.Time {
		t := times[min(i, len(times)-1)]
		i++
		return t
	}
	ledger, err := NewMutexLedger(seed(domain.NewAccount(1, 0, 0)), nil, WithClock(clock))
	require.NoError(t, err)

	_, err = ledger.ApplyMovement(ctx, 1, credit(1, "a"))
	require.NoError(t, err)
	_, err = ledger.ApplyMovement(ctx, 1, credit(1, "b"))
	require.NoError(t, err)

	stmt, err := ledger.GetStatement(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "b", stmt.Movements[0].Description)
	assert.Equal(t, times[0], stmt.Movements[0].CreatedAt)
}

func TestLedger_SeedIsNotMutated(t *testing.T) {
	for name, newLedger := range engines() {
		t.Run(name, func(t *testing.T) {
			acc := domain.NewAccount(1, 10, 0)
			ledger := newLedger(t, seed(acc), nil)

			_, err := ledger.ApplyMovement(context.Background(), 1, credit(5, "x"))
			require.NoError(t, err)
			assert.Equal(t, int64(0), acc.Balance)
		})
	}
}

func TestMutexLedger_BusyWhileHeld(t *testing.T) {
	ledger, err := NewMutexLedger(seed(domain.NewAccount(1, 0, 0), domain.NewAccount(2, 0, 0)), nil, WithLockTimeout(20*time.Millisecond))
	require.NoError(t, err)

	book, err := ledger.book(1)
	require.NoError(t, err)
	require.NoError(t, book.acquire(context.Background(), time.Second))

	_, err = ledger.ApplyMovement(context.Background(), 1, credit(1, "x"))
	assert.ErrorIs(t, err, domain.ErrBusy)

	// 其他帳戶不受影響
	_, err = ledger.ApplyMovement(context.Background(), 2, credit(1, "x"))
	assert.NoError(t, err)

	// 讀取不需要等待獨占權
	stmt, err := ledger.GetStatement(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, stmt.Movements)

	book.release()
	state, err := ledger.ApplyMovement(context.Background(), 1, credit(1, "x"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.Balance)
}

func TestMutexLedger_ContextDeadlineMeansBusy(t *testing.T) {
	ledger, err := NewMutexLedger(seed(domain.NewAccount(1, 0, 0)), nil)
	require.NoError(t, err)
	book, _ := ledger.book(1)
	require.NoError(t, book.acquire(context.Background(), time.Second))
	defer book.release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = ledger.ApplyMovement(ctx, 1, credit(1, "x"))
	assert.ErrorIs(t, err, domain.ErrBusy)
}

func TestLMAXLedger_NotStarted(t *testing.T) {
	ledger, err := NewLMAXLedger(seed(domain.NewAccount(1, 0, 0)), nil)
	require.NoError(t, err)

	_, err = ledger.ApplyMovement(context.Background(), 1, credit(1, "x"))
	assert.ErrorIs(t, err, domain.ErrEngineStopped)
	assert.ErrorIs(t, err, domain.ErrStorageFault)
}

func TestLMAXLedger_CloseDrainsQueued(t *testing.T) {
	ledger, err := NewLMAXLedger(seed(domain.NewAccount(1, 0, 0)), nil)
	require.NoError(t, err)
	ledger.Start(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = ledger.ApplyMovement(context.Background(), 1, credit(1, "x"))
		}()
	}
	wg.Wait()
	ledger.Close()
	ledger.Close()

	stmt, err := ledger.GetStatement(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(20), stmt.Balance)

	_, err = ledger.ApplyMovement(context.Background(), 1, credit(1, "x"))
	assert.ErrorIs(t, err, domain.ErrEngineStopped)
}

func TestLMAXLedger_CloseStopsWatcher(t *testing.T) {
	before := runtime.NumGoroutine()

	ledger, err := NewLMAXLedger(seed(domain.NewAccount(1, 0, 0), domain.NewAccount(2, 0, 0)), nil)
	require.NoError(t, err)
	// ctx 永遠不會結束，Close 必須自己收掉所有 goroutine
	ledger.Start(context.Background())
	_, err = ledger.ApplyMovement(context.Background(), 1, credit(1, "x"))
	require.NoError(t, err)
	ledger.Close()

	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before
	}, time.Second, 10*time.Millisecond)

	// 關閉後不會重新啟動
	ledger.Start(context.Background())
	_, err = ledger.ApplyMovement(context.Background(), 1, credit(1, "x"))
	assert.ErrorIs(t, err, domain.ErrEngineStopped)
}

func TestLedger_RecoverFromWAL(t *testing.T) {
	for name, newLedger := range engines() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "ledger.wal")
			accounts := seed(domain.NewAccount(1, 100, 0), domain.NewAccount(2, 0, 0))

			w, err := wal.NewWAL(path)
			require.NoError(t, err)
			ledger := newLedger(t, accounts, w)
			_, err = ledger.ApplyMovement(ctx, 1, debit(50, "rent"))
			require.NoError(t, err)
			_, err = ledger.ApplyMovement(ctx, 1, debit(60, "no"))
			require.ErrorIs(t, err, domain.ErrLimitExceeded)
			_, err = ledger.ApplyMovement(ctx, 2, credit(7, "tip"))
			require.NoError(t, err)
			before, err := ledger.GetStatement(ctx, 1)
			require.NoError(t, err)
			if c, ok := ledger.(*LMAXLedger); ok {
				c.Close()
			}
			require.NoError(t, w.Close())

			w2, err := wal.NewWAL(path)
			require.NoError(t, err)
			defer w2.Close()
			recovered := newLedger(t, accounts, w2)

			after, err := recovered.GetStatement(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, before.Balance, after.Balance)
			assert.Equal(t, before.Movements, after.Movements)

			all, err := recovered.LoadAllAccounts(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(7), all[2].Balance)

			// 流水號接續，不會重複
			_, err = recovered.ApplyMovement(ctx, 2, credit(1, "more"))
			require.NoError(t, err)
			stmt, err := recovered.GetStatement(ctx, 2)
			require.NoError(t, err)
			assert.Greater(t, stmt.Movements[0].ID, stmt.Movements[1].ID)
		})
	}
}

func TestLedger_RecoverSkipsDuplicateRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dup.wal")
	w, err := wal.NewWAL(path)
	require.NoError(t, err)

	mv := domain.Movement{ID: 1, AccountID: 1, Amount: 5, Kind: domain.KindCredit, Description: "x", CreatedAt: time.Now().UTC()}
	require.NoError(t, w.Write(mv))
	require.NoError(t, w.Write(mv))

	ledger, err := NewMutexLedger(seed(domain.NewAccount(1, 0, 0)), w)
	require.NoError(t, err)
	stmt, err := ledger.GetStatement(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5), stmt.Balance)
	assert.Len(t, stmt.Movements, 1)
}

func TestLedger_RecoverRejectsUnknownAccount(t *testing.T) {
	w, err := wal.NewWAL(filepath.Join(t.TempDir(), "bad.wal"))
	require.NoError(t, err)
	require.NoError(t, w.Write(domain.Movement{ID: 1, AccountID: 42, Amount: 5, Kind: domain.KindCredit, Description: "x"}))

	_, err = NewMutexLedger(seed(domain.NewAccount(1, 0, 0)), w)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}
