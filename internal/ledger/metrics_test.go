package ledger

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/bank-ledger/internal/errs"
)

func TestUnknownOperationTypesShareOneLabel(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	f := newFixture(t, WithMetrics(metrics))
	a := f.openAccount(t, "Alice")

	for _, op := range []OperationType{"BOGUS", "bogus-2", "DROP TABLE", ""} {
		_, err := f.engine.Post(f.ctx, PostRequest{Type: op, Amount: dec("1"), AccountID: a.ID})
		require.Error(t, err)
		assert.Equal(t, errs.KindValidation, errs.KindOf(err))
	}
	f.deposit(t, a.ID, "5")

	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.postings.WithLabelValues("invalid", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.postings.WithLabelValues(string(OpDeposit), "success")))
	assert.Equal(t, 2, testutil.CollectAndCount(metrics.postings))
	assert.Equal(t, 2, testutil.CollectAndCount(metrics.postingDuration))
}

func TestOperationTypeKnown(t *testing.T) {
	for _, op := range []OperationType{OpDeposit, OpWithdrawal, OpPayment, OpTransfer, OpLoanDisbursement, OpInstallmentPayment} {
		assert.True(t, op.Known(), op)
	}
	assert.False(t, OperationType("deposit").Known())
	assert.False(t, OperationType("").Known())
}
