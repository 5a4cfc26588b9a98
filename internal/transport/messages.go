// Package transport implements huginn's wire protocol: a length-prefixed
// binary encoding over TCP carrying order admission, cancellation, and
// snapshot requests, and execution/error reports back to the caller.
//
// Every decimal-valued field (price, quantity, budget) is a 1-byte
// length prefix followed by the ASCII decimal string money.Parse
// accepts, rather than a fixed-width IEEE-754 float64, keeping float
// inputs out of the wire format entirely. A variable-width field means
// no later field has a constant offset, so frames are parsed
// sequentially rather than by fixed header offsets.
package transport

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"huginn/internal/common"
	"huginn/internal/money"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrMessageTooShort    = errors.New("message too short")
)

// MessageType identifies a request frame's body layout.
type MessageType uint8

const (
	Heartbeat MessageType = iota
	NewOrder
	CancelOrder
	SnapshotRequest
)

// ReportMessageType identifies a response frame's body layout.
type ReportMessageType uint8

const (
	ExecutionReport ReportMessageType = iota
	ErrorReport
	BookSnapshotReport
)

// NewOrderMessage is the wire form of engine.SubmitRequest.
type NewOrderMessage struct {
	UserID      string
	Base        string
	Quote       string
	Side        common.Side
	Type        common.OrderType
	Quantity    money.Decimal
	LimitPrice  money.Decimal
	QuoteBudget money.Decimal
}

// CancelOrderMessage is the wire form of a cancel-by-id request. The
// user is carried so the engine can refuse cancels against someone
// else's order.
type CancelOrderMessage struct {
	UserID  string
	OrderID string
}

// SnapshotRequestMessage is the wire form of a book snapshot request.
type SnapshotRequestMessage struct {
	Base  string
	Quote string
	Depth int32
}

// readString reads a 1-byte length prefix followed by that many bytes.
func readString(r io.Reader) (string, error) {
	var n uint8
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeString(w *bufio.Writer, s string) error {
	if len(s) > 255 {
		return fmt.Errorf("field too long: %d bytes", len(s))
	}
	if err := w.WriteByte(byte(len(s))); err != nil {
		return err
	}
	_, err := w.WriteString(s)
	return err
}

// readDecimal reads a length-prefixed decimal string and parses it —
// no float64 field ever appears on the wire.
func readDecimal(r io.Reader) (money.Decimal, error) {
	s, err := readString(r)
	if err != nil {
		return money.Decimal{}, err
	}
	if s == "" {
		return money.Decimal{}, nil
	}
	return money.Parse(s)
}

func writeDecimal(w *bufio.Writer, d money.Decimal) error {
	return writeString(w, d.String())
}

// ReadMessage reads one framed request off r: a 1-byte MessageType
// followed by the type-specific body. Heartbeat carries no body.
func ReadMessage(r io.Reader) (MessageType, any, error) {
	var typeByte uint8
	if err := binary.Read(r, binary.BigEndian, &typeByte); err != nil {
		return 0, nil, err
	}
	switch MessageType(typeByte) {
	case Heartbeat:
		return Heartbeat, nil, nil
	case NewOrder:
		m, err := readNewOrder(r)
		return NewOrder, m, err
	case CancelOrder:
		m, err := readCancelOrder(r)
		return CancelOrder, m, err
	case SnapshotRequest:
		m, err := readSnapshotRequest(r)
		return SnapshotRequest, m, err
	default:
		return 0, nil, ErrInvalidMessageType
	}
}

func readNewOrder(r io.Reader) (NewOrderMessage, error) {
	var m NewOrderMessage
	var err error
	if m.UserID, err = readString(r); err != nil {
		return m, err
	}
	if m.Base, err = readString(r); err != nil {
		return m, err
	}
	if m.Quote, err = readString(r); err != nil {
		return m, err
	}
	var sideByte, typeByte uint8
	if err = binary.Read(r, binary.BigEndian, &sideByte); err != nil {
		return m, err
	}
	if err = binary.Read(r, binary.BigEndian, &typeByte); err != nil {
		return m, err
	}
	m.Side = common.Side(sideByte)
	m.Type = common.OrderType(typeByte)
	if m.Quantity, err = readDecimal(r); err != nil {
		return m, err
	}
	if m.LimitPrice, err = readDecimal(r); err != nil {
		return m, err
	}
	if m.QuoteBudget, err = readDecimal(r); err != nil {
		return m, err
	}
	return m, nil
}

func readCancelOrder(r io.Reader) (CancelOrderMessage, error) {
	var m CancelOrderMessage
	var err error
	if m.UserID, err = readString(r); err != nil {
		return m, err
	}
	m.OrderID, err = readString(r)
	return m, err
}

func readSnapshotRequest(r io.Reader) (SnapshotRequestMessage, error) {
	var m SnapshotRequestMessage
	var err error
	if m.Base, err = readString(r); err != nil {
		return m, err
	}
	if m.Quote, err = readString(r); err != nil {
		return m, err
	}
	var depth int32
	if err = binary.Read(r, binary.BigEndian, &depth); err != nil {
		return m, err
	}
	m.Depth = depth
	return m, nil
}

// ExecutionReportMsg is the wire form of a successfully admitted or
// cancelled order.
type ExecutionReportMsg struct {
	OrderID        string
	Status         common.OrderStatus
	FilledQuantity money.Decimal
	RemainingQty   money.Decimal
}

// ErrorReportMsg carries a request's failure back to the caller.
type ErrorReportMsg struct {
	Message string
}

// WriteExecutionReport frames and writes an execution report to w.
func WriteExecutionReport(w io.Writer, rpt ExecutionReportMsg) error {
	bw := bufio.NewWriter(w)
	if err := bw.WriteByte(byte(ExecutionReport)); err != nil {
		return err
	}
	if err := writeString(bw, rpt.OrderID); err != nil {
		return err
	}
	if err := bw.WriteByte(byte(rpt.Status)); err != nil {
		return err
	}
	if err := writeDecimal(bw, rpt.FilledQuantity); err != nil {
		return err
	}
	if err := writeDecimal(bw, rpt.RemainingQty); err != nil {
		return err
	}
	return bw.Flush()
}

// WriteErrorReport frames and writes an error report to w.
func WriteErrorReport(w io.Writer, rpt ErrorReportMsg) error {
	bw := bufio.NewWriter(w)
	if err := bw.WriteByte(byte(ErrorReport)); err != nil {
		return err
	}
	if err := writeString(bw, rpt.Message); err != nil {
		return err
	}
	return bw.Flush()
}

// WriteBookSnapshotReport frames and writes a depth-limited book view.
func WriteBookSnapshotReport(w io.Writer, bids, asks []LevelWire) error {
	bw := bufio.NewWriter(w)
	if err := bw.WriteByte(byte(BookSnapshotReport)); err != nil {
		return err
	}
	if err := writeLevels(bw, bids); err != nil {
		return err
	}
	if err := writeLevels(bw, asks); err != nil {
		return err
	}
	return bw.Flush()
}

// LevelWire is the wire form of book.LevelView.
type LevelWire struct {
	Price              money.Decimal
	AggregateRemaining money.Decimal
	OrderCount         int32
}

func writeLevels(bw *bufio.Writer, levels []LevelWire) error {
	if err := binary.Write(bw, binary.BigEndian, int32(len(levels))); err != nil {
		return err
	}
	for _, lvl := range levels {
		if err := writeDecimal(bw, lvl.Price); err != nil {
			return err
		}
		if err := writeDecimal(bw, lvl.AggregateRemaining); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.BigEndian, lvl.OrderCount); err != nil {
			return err
		}
	}
	return nil
}
