package transport

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"huginn/internal/common"
	"huginn/internal/money"
)

func TestNewOrderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(byte(NewOrder))

	bw := bufio.NewWriter(&buf)
	require.NoError(t, writeString(bw, "user-1"))
	require.NoError(t, writeString(bw, "BTC"))
	require.NoError(t, writeString(bw, "USDT"))
	require.NoError(t, bw.WriteByte(byte(common.Buy)))
	require.NoError(t, bw.WriteByte(byte(common.Limit)))
	require.NoError(t, writeDecimal(bw, money.MustParse("0.5")))
	require.NoError(t, writeDecimal(bw, money.MustParse("50000")))
	require.NoError(t, writeDecimal(bw, money.Zero()))
	require.NoError(t, bw.Flush())

	kind, msg, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, NewOrder, kind)

	order := msg.(NewOrderMessage)
	assert.Equal(t, "user-1", order.UserID)
	assert.Equal(t, "BTC", order.Base)
	assert.Equal(t, "USDT", order.Quote)
	assert.Equal(t, common.Buy, order.Side)
	assert.Equal(t, common.Limit, order.Type)
	assert.Equal(t, "0.50000000", order.Quantity.String())
	assert.Equal(t, "50000.00000000", order.LimitPrice.String())
}

func TestCancelOrderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(byte(CancelOrder))
	bw := bufio.NewWriter(&buf)
	require.NoError(t, writeString(bw, "user-1"))
	require.NoError(t, writeString(bw, "order-123"))
	require.NoError(t, bw.Flush())

	kind, msg, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, CancelOrder, kind)
	assert.Equal(t, "user-1", msg.(CancelOrderMessage).UserID)
	assert.Equal(t, "order-123", msg.(CancelOrderMessage).OrderID)
}

func TestExecutionReportRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	err := WriteExecutionReport(&buf, ExecutionReportMsg{
		OrderID:        "order-1",
		Status:         common.Filled,
		FilledQuantity: money.MustParse("0.5"),
		RemainingQty:   money.Zero(),
	})
	require.NoError(t, err)

	typeByte, err := buf.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte(ExecutionReport), typeByte)
}

func TestInvalidMessageTypeRejected(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(0xFF)
	_, _, err := ReadMessage(&buf)
	assert.ErrorIs(t, err, ErrInvalidMessageType)
}
