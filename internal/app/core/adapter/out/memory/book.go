package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-balance-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-balance-ledger/pkg/wal"
)

const defaultLockTimeout = 2 * time.Second

// Option 定義了記憶體帳本的配置選項函數
type Option func(*options)

type options struct {
	lockTimeout time.Duration
	clock       func() time.Time
	logger      *slog.Logger
	inboxSize   int
}

// WithLockTimeout 等待帳戶獨占權的上限，逾時回傳 ErrBusy
func WithLockTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.lockTimeout = d
		}
	}
}

// WithClock 替換異動時間來源 (測試用)
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithInboxSize 每個帳戶輸送帶的緩衝大小 (只有 LMAXLedger 使用)
func WithInboxSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.inboxSize = n
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		lockTimeout: defaultLockTimeout,
		clock:       time.Now,
		logger:      slog.Default(),
		inboxSize:   64,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// accountBook 單一帳戶的狀態與異動紀錄
//
// 寫入方必須先取得 hold (或是該帳戶唯一的 writer goroutine)，
// 真正修改 account/movements 時再持有 mu 寫鎖；讀取方只拿 mu 讀鎖。
type accountBook struct {
	hold      chan struct{}
	mu        sync.RWMutex
	account   *domain.Account
	movements []domain.Movement
}

func newAccountBook(account *domain.Account) *accountBook {
	return &accountBook{
		hold:    make(chan struct{}, 1),
		account: account,
	}
}

// acquire 取得帳戶獨占權，最多等 timeout 或 ctx 結束
func (b *accountBook) acquire(ctx context.Context, timeout time.Duration) error {
	// Fast path
	select {
	case b.hold <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case b.hold <- struct{}{}:
		return nil
	case <-timer.C:
		return fmt.Errorf("account %d: %w", b.account.ID, domain.ErrBusy)
	case <-ctx.Done():
		return fmt.Errorf("account %d: %w (%v)", b.account.ID, domain.ErrBusy, ctx.Err())
	}
}

func (b *accountBook) release() {
	<-b.hold
}

// lastCreatedAt 只在持有獨占權時呼叫
func (b *accountBook) lastCreatedAt() time.Time {
	if n := len(b.movements); n > 0 {
		return b.movements[n-1].CreatedAt
	}
	return time.Time{}
}

// commit 同時更新餘額並追加異動，讀取方看不到中間狀態
func (b *accountBook) commit(balance int64, mv domain.Movement) {
	b.mu.Lock()
	b.account.Balance = balance
	b.movements = append(b.movements, mv)
	b.mu.Unlock()
}

// statement 最近 StatementSize 筆，新到舊
func (b *accountBook) statement(asOf time.Time) *domain.Statement {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := min(len(b.movements), domain.StatementSize)
	recent := make([]domain.Movement, 0, n)
	for i := len(b.movements) - 1; i >= len(b.movements)-n; i-- {
		recent = append(recent, b.movements[i])
	}
	return &domain.Statement{
		Balance:   b.account.Balance,
		Limit:     b.account.Limit,
		AsOf:      asOf,
		Movements: recent,
	}
}

func (b *accountBook) snapshot() *domain.Account {
	b.mu.RLock()
	defer b.mu.RUnlock()
	acc := *b.account
	return &acc
}

// bookkeeper 兩種記憶體帳本共用的部分：帳戶表、流水號、WAL
type bookkeeper struct {
	// 建立後不再增減，不需加鎖
	books map[int64]*accountBook
	seq   atomic.Int64
	wal   *wal.WAL
	opts  options
}

func newBookkeeper(accounts map[int64]*domain.Account, w *wal.WAL, opts []Option) (*bookkeeper, error) {
	k := &bookkeeper{
		books: make(map[int64]*accountBook, len(accounts)),
		wal:   w,
		opts:  newOptions(opts),
	}
	for id, acc := range accounts {
		copied := *acc
		k.books[id] = newAccountBook(&copied)
	}
	if err := k.recoverFromWAL(); err != nil {
		return nil, err
	}
	return k, nil
}

// recoverFromWAL 從 WAL 檔案恢復帳本狀態
// 只在建構時呼叫 (單執行緒)，以 RefID 去重
func (k *bookkeeper) recoverFromWAL() error {
	if k.wal == nil {
		return nil
	}
	seen := make(map[uuid.UUID]struct{})
	replayed := 0
	err := k.wal.ReadAll(func(jsonRaw []byte) error {
		var mv domain.Movement
		if err := json.Unmarshal(jsonRaw, &mv); err != nil {
			return fmt.Errorf("decode movement: %w", err)
		}
		if _, ok := seen[mv.RefID]; ok {
			return nil
		}
		book, ok := k.books[mv.AccountID]
		if !ok {
			return fmt.Errorf("replay movement %d: %w (account %d)", mv.ID, domain.ErrAccountNotFound, mv.AccountID)
		}
		if err := book.account.Apply(mv.Kind, mv.Amount); err != nil {
			return fmt.Errorf("replay movement %d: %w", mv.ID, err)
		}
		book.movements = append(book.movements, mv)
		seen[mv.RefID] = struct{}{}
		if mv.ID > k.seq.Load() {
			k.seq.Store(mv.ID)
		}
		replayed++
		return nil
	})
	if err != nil {
		return fmt.Errorf("recover from wal: %w", err)
	}
	if replayed > 0 {
		k.opts.logger.Info("ledger recovered from wal", slog.Int("movements", replayed))
	}
	return nil
}

func (k *bookkeeper) book(accountID int64) (*accountBook, error) {
	book, ok := k.books[accountID]
	if !ok {
		return nil, fmt.Errorf("account %d: %w", accountID, domain.ErrAccountNotFound)
	}
	return book, nil
}

// apply 執行一筆異動；呼叫端必須持有該帳戶的寫入權
//
// 順序: 計算新餘額 -> 寫 WAL -> 更新記憶體。
// WAL 失敗時記憶體完全不動。
func (k *bookkeeper) apply(book *accountBook, order domain.Order) (domain.AccountState, error) {
	next, err := book.account.NextBalance(order.Kind, order.Amount)
	if err != nil {
		return domain.AccountState{}, err
	}

	createdAt := k.opts.clock().UTC()
	// 同一帳戶的異動時間不倒退
	if last := book.lastCreatedAt(); createdAt.Before(last) {
		createdAt = last
	}
	mv := domain.Movement{
		ID:          k.seq.Add(1),
		RefID:       uuid.New(),
		AccountID:   book.account.ID,
		Amount:      order.Amount,
		Kind:        order.Kind,
		Description: order.Description,
		CreatedAt:   createdAt,
	}

	if k.wal != nil {
		if err := k.wal.Write(mv); err != nil {
			return domain.AccountState{}, fmt.Errorf("%w: %v", domain.ErrWALWriteFailed, err)
		}
	}

	book.commit(next, mv)
	return domain.AccountState{Balance: next, Limit: book.account.Limit, MovementID: mv.ID}, nil
}

// GetStatement 取得對帳單，不會等待寫入方的獨占權
func (k *bookkeeper) GetStatement(ctx context.Context, accountID int64) (*domain.Statement, error) {
	book, err := k.book(accountID)
	if err != nil {
		return nil, err
	}
	return book.statement(k.opts.clock().UTC()), nil
}

// LoadAllAccounts 回傳所有帳戶的快照
func (k *bookkeeper) LoadAllAccounts(ctx context.Context) (map[int64]*domain.Account, error) {
	out := make(map[int64]*domain.Account, len(k.books))
	for id, book := range k.books {
		out[id] = book.snapshot()
	}
	return out, nil
}
