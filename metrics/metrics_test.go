package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/warp/loyalty-engine/ledger"
)

func TestRecordHTTPRequest(t *testing.T) {
	HTTPRequestsTotal.Reset()
	HTTPRequestDuration.Reset()

	RecordHTTPRequest("POST", "/api/transactions", "201", 0.1)
	RecordHTTPRequest("POST", "/api/transactions", "201", 0.2)
	RecordHTTPRequest("POST", "/api/transactions", "400", 0.05)

	assert.Equal(t, float64(2), testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", "/api/transactions", "201")))
	assert.Equal(t, float64(1), testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", "/api/transactions", "400")))
	assert.Equal(t, 1, testutil.CollectAndCount(HTTPRequestDuration))
}

func TestObserveOperation(t *testing.T) {
	LedgerOperationsTotal.Reset()

	ObserveOperation("purchase", nil)
	ObserveOperation("purchase", &ledger.Error{Kind: ledger.KindRule, Op: "purchase", Err: ledger.ErrPromotionUsed})
	ObserveOperation("transfer", ledger.ErrForbidden)
	ObserveOperation("transfer", errors.New("disk full"))

	assert.Equal(t, float64(1), testutil.ToFloat64(LedgerOperationsTotal.WithLabelValues("purchase", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(LedgerOperationsTotal.WithLabelValues("purchase", "rule")))
	assert.Equal(t, float64(1), testutil.ToFloat64(LedgerOperationsTotal.WithLabelValues("transfer", "permission")))
	assert.Equal(t, float64(1), testutil.ToFloat64(LedgerOperationsTotal.WithLabelValues("transfer", "internal")))
}

func TestRecordTransaction(t *testing.T) {
	PointsAwardedTotal.Reset()
	PointsRedeemedTotal.Reset()

	awarded, redeemed := int64(80), int64(30)
	pending := false

	RecordTransaction(&ledger.Transaction{Kind: ledger.KindPurchase, Awarded: &awarded})
	RecordTransaction(&ledger.Transaction{Kind: ledger.KindPurchase, Awarded: &awarded, Suspicious: true})
	RecordTransaction(&ledger.Transaction{Kind: ledger.KindTransfer, Redeemed: &redeemed})
	RecordTransaction(&ledger.Transaction{Kind: ledger.KindRedemption, Redeemed: &redeemed, Processed: &pending})

	assert.Equal(t, float64(80), testutil.ToFloat64(PointsAwardedTotal.WithLabelValues("purchase")))
	assert.Equal(t, float64(30), testutil.ToFloat64(PointsRedeemedTotal.WithLabelValues("transfer")))
	assert.Equal(t, 1, testutil.CollectAndCount(PointsRedeemedTotal), "pending redemption is not counted")
}

func TestRecordAudit(t *testing.T) {
	before := testutil.ToFloat64(BalanceAuditsTotal)
	RecordAudit(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(BalanceDriftAccounts))
	assert.Equal(t, before+1, testutil.ToFloat64(BalanceAuditsTotal))
}
