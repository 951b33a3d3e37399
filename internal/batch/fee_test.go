package batch

import (
	"context"
	"math/big"
	"testing"

	"batchrails/internal/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeeRouterRoutesToCollector(t *testing.T) {
	led := &recordingLedger{}
	tx, err := led.Begin(context.Background())
	require.NoError(t, err)

	router := FeeRouter{Collector: testCollector}
	require.NoError(t, router.RouteFee(context.Background(), tx, testToken, testPayer, big.NewInt(7)))

	require.Len(t, led.transfers, 1)
	call := led.transfers[0]
	assert.Equal(t, testToken, call.token, "fee leg must use the principal's token")
	assert.Equal(t, testPayer, call.from)
	assert.Equal(t, testCollector, call.to)
	assert.Equal(t, big.NewInt(7), call.amount)
}

func TestFeeRouterSkipsZeroAndNil(t *testing.T) {
	led := &recordingLedger{}
	tx, err := led.Begin(context.Background())
	require.NoError(t, err)

	router := FeeRouter{Collector: testCollector}
	require.NoError(t, router.RouteFee(context.Background(), tx, testToken, testPayer, big.NewInt(0)))
	require.NoError(t, router.RouteFee(context.Background(), tx, testToken, testPayer, nil))

	assert.Empty(t, led.transfers)
}

func TestFeeRouterForwardsLedgerErrors(t *testing.T) {
	led := &recordingLedger{errAt: map[int]error{0: ledger.ErrInsufficientAuthorization}}
	tx, err := led.Begin(context.Background())
	require.NoError(t, err)

	router := FeeRouter{Collector: testCollector}
	err = router.RouteFee(context.Background(), tx, testToken, testPayer, big.NewInt(3))

	assert.ErrorIs(t, err, ledger.ErrInsufficientAuthorization)
}
