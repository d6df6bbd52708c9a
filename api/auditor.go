/*
auditor.go - Periodic balance audit

PURPOSE:
  Replays every account's ledger on a fixed interval and compares the
  result with the stored points counter. Drift is logged per account and
  the number of drifted accounts is exported as a gauge.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - Read-only: drift is reported, never repaired

USAGE:
  auditor := NewBalanceAuditor(engine, log)
  auditor.Interval = time.Hour
  auditor.Start()
  // ... later
  auditor.Stop()

SEE ALSO:
  - ledger/balance.go: VerifyBalance
  - users.go: AuditUser endpoint (one account on demand)
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/loyalty-engine/ledger"
	"github.com/warp/loyalty-engine/metrics"
)

// BalanceAuditor checks stored balances against ledger replays.
type BalanceAuditor struct {
	Engine   *ledger.Engine
	Log      logrus.FieldLogger
	Interval time.Duration
	Enabled  bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewBalanceAuditor creates an auditor with a one hour interval.
func NewBalanceAuditor(engine *ledger.Engine, log logrus.FieldLogger) *BalanceAuditor {
	return &BalanceAuditor{
		Engine:   engine,
		Log:      log,
		Interval: time.Hour,
		Enabled:  true,
		stop:     make(chan struct{}),
	}
}

// Start begins the audit loop.
func (a *BalanceAuditor) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.Enabled {
		a.Log.Info("balance auditor disabled")
		return
	}
	if a.ticker != nil {
		return
	}

	a.ticker = time.NewTicker(a.Interval)
	a.stop = make(chan struct{})
	a.wg.Add(1)
	go a.run()

	a.Log.WithField("interval", a.Interval).Info("balance auditor started")
}

// Stop stops the audit loop and waits for a running pass to finish.
func (a *BalanceAuditor) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ticker != nil {
		a.ticker.Stop()
		close(a.stop)
		a.wg.Wait()
		a.ticker = nil
		a.Log.Info("balance auditor stopped")
	}
}

func (a *BalanceAuditor) run() {
	defer a.wg.Done()

	a.RunOnce(context.Background())

	for {
		select {
		case <-a.ticker.C:
			a.RunOnce(context.Background())
		case <-a.stop:
			return
		}
	}
}

// RunOnce audits every account and returns the reports that drifted.
func (a *BalanceAuditor) RunOnce(ctx context.Context) []ledger.BalanceReport {
	accounts, err := a.Engine.ListAccounts(ctx)
	if err != nil {
		a.Log.WithError(err).Error("balance audit: listing accounts")
		return nil
	}

	var drifted []ledger.BalanceReport
	for _, acct := range accounts {
		report, err := a.Engine.VerifyBalance(ctx, acct.ID)
		if err != nil {
			a.Log.WithError(err).WithField("user_id", acct.ID).Error("balance audit: verify")
			continue
		}
		if !report.Consistent() {
			a.Log.WithFields(logrus.Fields{
				"user_id":  acct.ID,
				"stored":   report.Stored,
				"replayed": report.Replayed,
				"drift":    report.Drift(),
			}).Warn("balance drift detected")
			drifted = append(drifted, *report)
		}
	}

	metrics.RecordAudit(len(drifted))
	a.Log.WithFields(logrus.Fields{
		"accounts": len(accounts),
		"drifted":  len(drifted),
	}).Info("balance audit complete")
	return drifted
}
