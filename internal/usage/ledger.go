// internal/usage/ledger.go
// Usage Accounting (SPEC_FULL.md §4.8, from spec.md §9's design note):
// exactly two hooks, on_request_received and on_response_sent, accumulated
// per account_id (= user_key, spec.md §3) and flushed to the Contract
// Client on a periodic batch (default 60s). Grounded on spec.md §9's exact
// hook signatures and original_source/src/contract.rs's submit_usage
// argument shape.
package usage

import (
	"context"
	"sync"
	"time"

	"github.com/apron-network/apron-gateway-go/internal/contract"
	"github.com/apron-network/apron-gateway-go/internal/logging"
)

// DefaultFlushInterval is spec.md §9's default batch period.
const DefaultFlushInterval = 60 * time.Second

type accumulator struct {
	startMicros     int64
	accessCount     int64
	uploadTraffic   int64
	downloadTraffic int64
}

// Ledger accumulates usage per user_key and periodically submits a batch
// to the Contract Client.
type Ledger struct {
	client   contract.Client
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	accounts map[string]*accumulator
}

// New builds a Ledger that flushes to client every interval (DefaultFlushInterval
// when interval <= 0).
func New(client contract.Client, interval time.Duration) *Ledger {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Ledger{
		client:   client,
		interval: interval,
		now:      time.Now,
		accounts: make(map[string]*accumulator),
	}
}

// OnRequestReceived is the fixed hook fired at SSG InitRequest arrival
// (spec.md §9).
func (l *Ledger) OnRequestReceived(userKey string, uploadBytes int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a := l.accountLocked(userKey)
	a.accessCount++
	a.uploadTraffic += uploadBytes
}

// OnResponseSent is the fixed hook fired at SSG HttpResult emission
// (spec.md §9).
func (l *Ledger) OnResponseSent(userKey string, downloadBytes int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a := l.accountLocked(userKey)
	a.downloadTraffic += downloadBytes
}

func (l *Ledger) accountLocked(userKey string) *accumulator {
	a, ok := l.accounts[userKey]
	if !ok {
		a = &accumulator{startMicros: l.now().UnixMicro()}
		l.accounts[userKey] = a
	}
	return a
}

// Run blocks, flushing accumulated usage every interval until ctx is
// cancelled, then performs one final flush.
func (l *Ledger) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			l.flush(context.Background())
			return
		case <-ticker.C:
			l.flush(ctx)
		}
	}
}

func (l *Ledger) flush(ctx context.Context) {
	end := l.now().UnixMicro()

	l.mu.Lock()
	if len(l.accounts) == 0 {
		l.mu.Unlock()
		return
	}
	reports := make([]contract.Report, 0, len(l.accounts))
	for userKey, a := range l.accounts {
		reports = append(reports, contract.Report{
			UserKey:         userKey,
			StartTimestamp:  a.startMicros,
			EndTimestamp:    end,
			AccessCount:     a.accessCount,
			UploadTraffic:   a.uploadTraffic,
			DownloadTraffic: a.downloadTraffic,
		})
	}
	l.accounts = make(map[string]*accumulator)
	l.mu.Unlock()

	if err := l.client.SubmitUsage(ctx, reports); err != nil {
		logging.Sugar().Warnw("usage: submit_usage failed, batch dropped", "err", err, "accounts", len(reports))
	}
}
