package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JoeShih716/go-balance-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-balance-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-balance-ledger/pkg/wal"
)

// movementRequest 異動請求包裝 channel，讓 ApplyMovement 可以等待結果
type movementRequest struct {
	order    domain.Order
	deadline time.Time
	result   chan movementResult
}

type movementResult struct {
	state domain.AccountState
	err   error
}

// lane 每個帳戶一條輸送帶 + 一個 writer goroutine
type lane struct {
	book  *accountBook
	inbox chan *movementRequest
}

// LMAXLedger 單一寫入者模型：每個帳戶由自己的 goroutine 依序處理異動
//
// ApplyMovement(等待) -> 帳戶 inbox -> 帳戶 loop -> WAL -> 記憶體更新 -> result channel
type LMAXLedger struct {
	*bookkeeper
	lanes map[int64]*lane

	// 保護 running；送件方持有讀鎖，Close 持有寫鎖
	mu      sync.RWMutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup

	// Pool 減少 GC 壓力
	requestPool sync.Pool
}

// NewLMAXLedger 建立一個新的 LMAXLedger 實例，需呼叫 Start 後才會處理異動
//
// 參數:
//
//	accounts: 初始帳戶資料 Map
//	wal: Write-Ahead Log 實例，nil 代表不落盤
//	opts: 選項
//
// 回傳:
//
//	*LMAXLedger: LMAXLedger 實例
//	error: 初始化錯誤 (如 WAL 恢復失敗)
func NewLMAXLedger(accounts map[int64]*domain.Account, wal *wal.WAL, opts ...Option) (*LMAXLedger, error) {
	// 在啟動前先恢復資料
	k, err := newBookkeeper(accounts, wal, opts)
	if err != nil {
		return nil, err
	}
	l := &LMAXLedger{
		bookkeeper: k,
		lanes:      make(map[int64]*lane, len(k.books)),
		requestPool: sync.Pool{
			New: func() any {
				return &movementRequest{result: make(chan movementResult, 1)}
			},
		},
	}
	for id, book := range k.books {
		l.lanes[id] = &lane{book: book, inbox: make(chan *movementRequest, k.opts.inboxSize)}
	}
	return l, nil
}

// Start 啟動每個帳戶的核心 loop (非同步)；ctx 結束或 Close 時停止。只能啟動一次。
func (l *LMAXLedger) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	// inbox 關閉後不能再用
	if l.stop != nil {
		return
	}
	l.running = true
	l.stop = make(chan struct{})
	for _, ln := range l.lanes {
		l.wg.Add(1)
		go l.run(ln)
	}
	go func(stop <-chan struct{}) {
		select {
		case <-ctx.Done():
			l.Close()
		case <-stop:
		}
	}(l.stop)
}

// Close 停止接收新異動，把已排隊的處理完後返回。可重複呼叫。
func (l *LMAXLedger) Close() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	close(l.stop)
	// 拿到寫鎖代表沒有送件中的請求，可以安全關閉 inbox
	for _, ln := range l.lanes {
		close(ln.inbox)
	}
	l.mu.Unlock()
	l.wg.Wait()
}

func (l *LMAXLedger) run(ln *lane) {
	defer l.wg.Done()
	// inbox 關閉後 range 會先把剩下的請求處理完
	for req := range ln.inbox {
		l.process(ln.book, req)
	}
}

// process 處理單筆異動並回傳結果
func (l *LMAXLedger) process(book *accountBook, req *movementRequest) {
	// 排隊太久，呼叫端已視為忙碌
	if time.Now().After(req.deadline) {
		req.result <- movementResult{err: fmt.Errorf("account %d: %w", book.account.ID, domain.ErrBusy)}
		return
	}
	state, err := l.apply(book, req.order)
	req.result <- movementResult{state: state, err: err}
}

// ApplyMovement 把異動送進帳戶的輸送帶並等待結果
//
// 參數:
//
//	ctx: 上下文 (deadline 會縮短排隊時間)
//	accountID: 帳戶 ID
//	order: 已驗證的異動
//
// 回傳:
//
//	domain.AccountState: 套用後的 {balance, limit}
//	error: ErrAccountNotFound / ErrBusy / ErrLimitExceeded / ErrOverflow / ErrWALWriteFailed / ErrEngineStopped
func (l *LMAXLedger) ApplyMovement(ctx context.Context, accountID int64, order domain.Order) (domain.AccountState, error) {
	ln, ok := l.lanes[accountID]
	if !ok {
		return domain.AccountState{}, fmt.Errorf("account %d: %w", accountID, domain.ErrAccountNotFound)
	}

	deadline := time.Now().Add(l.opts.lockTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	req := l.requestPool.Get().(*movementRequest)
	req.order = order
	req.deadline = deadline

	if err := l.enqueue(ctx, ln, req); err != nil {
		l.requestPool.Put(req)
		return domain.AccountState{}, err
	}

	// 一旦進了 inbox，loop 一定會回覆 (即使已逾時)，所以這裡不看 ctx
	res := <-req.result
	l.requestPool.Put(req)
	return res.state, res.err
}

func (l *LMAXLedger) enqueue(ctx context.Context, ln *lane, req *movementRequest) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.running {
		return domain.ErrEngineStopped
	}

	// Fast path
	select {
	case ln.inbox <- req:
		return nil
	default:
	}

	timer := time.NewTimer(time.Until(req.deadline))
	defer timer.Stop()
	select {
	case ln.inbox <- req:
		return nil
	case <-timer.C:
		return fmt.Errorf("account %d inbox full: %w", ln.book.account.ID, domain.ErrBusy)
	case <-ctx.Done():
		return fmt.Errorf("account %d: %w (%v)", ln.book.account.ID, domain.ErrBusy, ctx.Err())
	}
}

var _ usecase.Ledger = (*LMAXLedger)(nil)
