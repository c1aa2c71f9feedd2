package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"duka/internal/mpesa"
	"duka/internal/repository"
)

// PollerConfig controls the status-query fallback for missed callbacks.
type PollerConfig struct {
	Interval time.Duration
	// CallbackWindow is how long a transaction waits for its callback before it is queried.
	CallbackWindow time.Duration
	// ExpireAfter is the age at which an unresolved transaction is failed with TIMEOUT.
	ExpireAfter      time.Duration
	BatchSize        int
	QueriesPerSecond float64
}

// Poller queries the gateway for transactions whose callback is overdue and feeds the
// answers through the Reconciler.
type Poller struct {
	txnRepo    repository.TransactionRepository
	gateway    Gateway
	reconciler *Reconciler
	limiter    *rate.Limiter
	inflight   singleflight.Group
	cfg        PollerConfig
	log        *slog.Logger
	now        func() time.Time
}

// NewPoller creates a new Poller.
func NewPoller(txnRepo repository.TransactionRepository, gateway Gateway, reconciler *Reconciler, cfg PollerConfig, log *slog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.CallbackWindow <= 0 {
		cfg.CallbackWindow = 90 * time.Second
	}
	if cfg.ExpireAfter <= 0 {
		cfg.ExpireAfter = 10 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.QueriesPerSecond <= 0 {
		cfg.QueriesPerSecond = 2
	}
	return &Poller{
		txnRepo:    txnRepo,
		gateway:    gateway,
		reconciler: reconciler,
		limiter:    rate.NewLimiter(rate.Limit(cfg.QueriesPerSecond), 1),
		cfg:        cfg,
		log:        log,
		now:        time.Now,
	}
}

// Run sweeps on every tick until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.log.Info("payment poller started", "interval", p.cfg.Interval.String(), "callback_window", p.cfg.CallbackWindow.String())
	for {
		select {
		case <-ctx.Done():
			p.log.Info("payment poller stopped")
			return nil
		case <-ticker.C:
			if _, err := p.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				p.log.Error("payment poll sweep", "error", err)
			}
		}
	}
}

// Sweep polls one batch of overdue INITIATED transactions and returns how many were settled.
func (p *Poller) Sweep(ctx context.Context) (int, error) {
	stale, err := p.txnRepo.ListStaleInitiated(ctx, p.now().Add(-p.cfg.CallbackWindow), p.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale transactions: %w", err)
	}

	settled := 0
	for _, txn := range stale {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}

		res, err := p.PollTransaction(ctx, txn.ID)
		if err != nil {
			p.log.WarnContext(ctx, "poll transaction", "transaction_id", txn.ID, "error", err)
			continue
		}
		if res.Outcome != OutcomeStillPending && res.Outcome != OutcomeAlreadyFinal {
			settled++
		}
	}

	if len(stale) > 0 {
		p.log.InfoContext(ctx, "payment poll sweep done", "checked", len(stale), "settled", settled)
	}
	return settled, nil
}

// PollTransaction asks the gateway about one transaction. Concurrent polls of the same
// transaction share a single gateway query.
func (p *Poller) PollTransaction(ctx context.Context, transactionID string) (*ReconcileResult, error) {
	v, err, _ := p.inflight.Do(transactionID, func() (any, error) {
		return p.poll(ctx, transactionID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*ReconcileResult), nil
}

func (p *Poller) poll(ctx context.Context, transactionID string) (*ReconcileResult, error) {
	txn, err := p.txnRepo.GetByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	if txn.Status.IsTerminal() {
		return &ReconcileResult{Outcome: OutcomeAlreadyFinal, Transaction: txn}, nil
	}

	age := p.now().Sub(txn.CreatedAt)

	// Without a checkout id there is nothing to ask the gateway about. The push may still
	// have reached the phone, so its signed callback is waited for until the deadline.
	if txn.CheckoutRequestID == "" {
		if age > p.cfg.ExpireAfter {
			return p.reconciler.Expire(ctx, txn.ID, "gateway acknowledgement not recorded")
		}
		return &ReconcileResult{Outcome: OutcomeStillPending, Transaction: txn}, nil
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := p.gateway.QuerySTKStatus(ctx, txn.CheckoutRequestID)
	if err != nil {
		if age > p.cfg.ExpireAfter {
			return p.reconciler.Expire(ctx, txn.ID, "no result from gateway: "+err.Error())
		}
		if errors.Is(err, mpesa.ErrRejected) {
			return nil, fmt.Errorf("%w: %v", ErrGatewayRejected, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	code := resp.ResultCode.String()
	if code == "" || mpesa.IsPending(code) {
		if age > p.cfg.ExpireAfter {
			return p.reconciler.Expire(ctx, txn.ID, "customer did not respond")
		}
		return &ReconcileResult{Outcome: OutcomeStillPending, Transaction: txn}, nil
	}

	return p.reconciler.Reconcile(ctx, PaymentResult{
		CheckoutRequestID: txn.CheckoutRequestID,
		MerchantRequestID: resp.MerchantRequestID,
		ResultCode:        code,
		ResultDesc:        resp.ResultDesc,
		Source:            SourcePoll,
	})
}

