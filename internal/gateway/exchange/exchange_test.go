package exchange

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSideOrders(t *testing.T) {
	assert.Equal(t, OrderBuy, SideLong.OpenOrder())
	assert.Equal(t, OrderSell, SideLong.CloseOrder())
	assert.Equal(t, OrderSell, SideShort.OpenOrder())
	assert.Equal(t, OrderBuy, SideShort.CloseOrder())
	assert.Equal(t, SideShort, SideLong.Opposite())
}

func TestErrorTaxonomy(t *testing.T) {
	rej := fmt.Errorf("open: %w", &RejectedError{Op: "order", Code: -2019, Message: "Margin is insufficient."})
	assert.True(t, IsRejected(rej))
	assert.False(t, IsTransient(rej))

	net := errors.New("connection reset")
	assert.False(t, IsRejected(net))
	assert.True(t, IsTransient(net))

	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(context.Canceled))
}

func TestBalanceEquityAndProtectiveClear(t *testing.T) {
	assert.Equal(t, 1010.0, Balance{Total: 1000, UnrealizedPnL: 10}.Equity())
	set := &ProtectiveOrderSet{StopLossOrderID: "1", TakeProfitOrderID: "2"}
	set.Clear()
	assert.Empty(t, set.StopLossOrderID)
	var nilSet *ProtectiveOrderSet
	nilSet.Clear()
}
