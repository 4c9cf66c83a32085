package net

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	. "fenrir/internal/common"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrInvalidReportType  = errors.New("invalid report type")
	ErrMessageTooShort    = errors.New("message too short")
	ErrMessageTooLong     = errors.New("message too long")
	ErrOrderIDTooLong     = errors.New("order id too long")
)

type MessageType uint16

const (
	Heartbeat MessageType = iota
	NewOrder
	CancelOrder
	ReduceOrder
	LookupOrder
	DepthRequest
)

type ReportMessageType uint8

const (
	AckReport ReportMessageType = iota
	ExecutionReport
	ErrorReport
	OrderReport
	DepthReport
)

// Frame layout constants. Every frame is a big-endian uint16 length followed
// by that many payload bytes.
const (
	FrameHeaderLen = 2
	MaxFrameLen    = 1<<16 - 1
	MaxOrderIDLen  = 255
	// MaxDepthLevels caps the levels per side in a depth report so it fits a frame.
	MaxDepthLevels = 1024
)

// ReadFrame reads one length-prefixed payload.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [FrameHeaderLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	payload := make([]byte, binary.BigEndian.Uint16(header[:]))
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("reading frame body: %w", err)
	}
	return payload, nil
}

// WriteFrame writes payload behind its length prefix in a single write.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameLen {
		return ErrMessageTooLong
	}
	buf := make([]byte, 0, FrameHeaderLen+len(payload))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(payload)))
	buf = append(buf, payload...)
	_, err := w.Write(buf)
	return err
}

// ---- Requests ----

type Message interface {
	GetType() MessageType
}

type HeartbeatMessage struct{}

type NewOrderMessage struct {
	Side     Side   // 1 byte
	Price    int64  // 8 bytes
	Quantity uint64 // 8 bytes
}

type CancelOrderMessage struct {
	OrderID string // 1 byte length + n bytes
}

type ReduceOrderMessage struct {
	Amount  uint64 // 8 bytes
	OrderID string // 1 byte length + n bytes
}

type LookupOrderMessage struct {
	OrderID string // 1 byte length + n bytes
}

type DepthRequestMessage struct{}

func (HeartbeatMessage) GetType() MessageType    { return Heartbeat }
func (NewOrderMessage) GetType() MessageType     { return NewOrder }
func (CancelOrderMessage) GetType() MessageType  { return CancelOrder }
func (ReduceOrderMessage) GetType() MessageType  { return ReduceOrder }
func (LookupOrderMessage) GetType() MessageType  { return LookupOrder }
func (DepthRequestMessage) GetType() MessageType { return DepthRequest }

// ParseMessage decodes a request payload.
func ParseMessage(msg []byte) (Message, error) {
	d := decoder{buf: msg}
	typeOf := MessageType(d.u16())
	if d.err != nil {
		return nil, d.err
	}

	var m Message
	switch typeOf {
	case Heartbeat:
		m = HeartbeatMessage{}
	case NewOrder:
		m = NewOrderMessage{
			Side:     Side(d.u8()),
			Price:    d.i64(),
			Quantity: d.u64(),
		}
	case CancelOrder:
		m = CancelOrderMessage{OrderID: d.shortString()}
	case ReduceOrder:
		m = ReduceOrderMessage{Amount: d.u64(), OrderID: d.shortString()}
	case LookupOrder:
		m = LookupOrderMessage{OrderID: d.shortString()}
	case DepthRequest:
		m = DepthRequestMessage{}
	default:
		return nil, ErrInvalidMessageType
	}
	if d.err != nil {
		return nil, d.err
	}
	return m, nil
}

// EncodeMessage encodes a request payload.
func EncodeMessage(m Message) ([]byte, error) {
	e := encoder{}
	e.u16(uint16(m.GetType()))
	switch m := m.(type) {
	case HeartbeatMessage, DepthRequestMessage:
	case NewOrderMessage:
		e.u8(uint8(m.Side))
		e.i64(m.Price)
		e.u64(m.Quantity)
	case CancelOrderMessage:
		e.shortString(m.OrderID)
	case ReduceOrderMessage:
		e.u64(m.Amount)
		e.shortString(m.OrderID)
	case LookupOrderMessage:
		e.shortString(m.OrderID)
	default:
		return nil, ErrInvalidMessageType
	}
	return e.bytes()
}

// ---- Reports ----

type Report interface {
	GetType() ReportMessageType
}

// Ack confirms a request. OrderID is the order the request created or touched,
// and is empty for heartbeats.
type Ack struct {
	OrderID string
}

// Execution tells one party of a trade about its fill.
type Execution struct {
	Side         Side   // 1 byte
	Price        int64  // 8 bytes
	Quantity     uint64 // 8 bytes
	Timestamp    uint64 // 8 bytes, unix nanoseconds
	OrderID      string // 1 byte length + n bytes
	Counterparty string // 1 byte length + n bytes, the other order's id
}

type Rejection struct {
	Err string // 2 byte length + n bytes
}

type OrderInfo struct {
	Side          Side   // 1 byte
	Price         int64  // 8 bytes
	Quantity      uint64 // 8 bytes
	TotalQuantity uint64 // 8 bytes
	OrderID       string // 1 byte length + n bytes
}

type DepthLevel struct {
	Price  int64  // 8 bytes
	Volume uint64 // 8 bytes
}

type DepthSnapshot struct {
	Bids      []DepthLevel // 2 byte count + levels
	Asks      []DepthLevel // 2 byte count + levels
	Truncated bool         // 1 byte, set when either side held more than MaxDepthLevels
}

func (Ack) GetType() ReportMessageType           { return AckReport }
func (Execution) GetType() ReportMessageType     { return ExecutionReport }
func (Rejection) GetType() ReportMessageType     { return ErrorReport }
func (OrderInfo) GetType() ReportMessageType     { return OrderReport }
func (DepthSnapshot) GetType() ReportMessageType { return DepthReport }

// EncodeReport converts the report to be sent on the wire.
func EncodeReport(r Report) ([]byte, error) {
	e := encoder{}
	e.u8(uint8(r.GetType()))
	switch r := r.(type) {
	case Ack:
		e.shortString(r.OrderID)
	case Execution:
		e.u8(uint8(r.Side))
		e.i64(r.Price)
		e.u64(r.Quantity)
		e.u64(r.Timestamp)
		e.shortString(r.OrderID)
		e.shortString(r.Counterparty)
	case Rejection:
		e.longString(r.Err)
	case OrderInfo:
		e.u8(uint8(r.Side))
		e.i64(r.Price)
		e.u64(r.Quantity)
		e.u64(r.TotalQuantity)
		e.shortString(r.OrderID)
	case DepthSnapshot:
		truncated := r.Truncated || len(r.Bids) > MaxDepthLevels || len(r.Asks) > MaxDepthLevels
		e.levels(r.Bids)
		e.levels(r.Asks)
		e.flag(truncated)
	default:
		return nil, ErrInvalidReportType
	}
	return e.bytes()
}

// ParseReport decodes a report payload.
func ParseReport(msg []byte) (Report, error) {
	d := decoder{buf: msg}
	typeOf := ReportMessageType(d.u8())
	if d.err != nil {
		return nil, d.err
	}

	var r Report
	switch typeOf {
	case AckReport:
		r = Ack{OrderID: d.shortString()}
	case ExecutionReport:
		r = Execution{
			Side:         Side(d.u8()),
			Price:        d.i64(),
			Quantity:     d.u64(),
			Timestamp:    d.u64(),
			OrderID:      d.shortString(),
			Counterparty: d.shortString(),
		}
	case ErrorReport:
		r = Rejection{Err: d.longString()}
	case OrderReport:
		r = OrderInfo{
			Side:          Side(d.u8()),
			Price:         d.i64(),
			Quantity:      d.u64(),
			TotalQuantity: d.u64(),
			OrderID:       d.shortString(),
		}
	case DepthReport:
		r = DepthSnapshot{Bids: d.levels(), Asks: d.levels(), Truncated: d.u8() != 0}
	default:
		return nil, ErrInvalidReportType
	}
	if d.err != nil {
		return nil, d.err
	}
	return r, nil
}

// ---- Codec helpers ----

// encoder appends big-endian fields and keeps the first error.
type encoder struct {
	buf []byte
	err error
}

func (e *encoder) u8(v uint8)   { e.buf = append(e.buf, v) }
func (e *encoder) u16(v uint16) { e.buf = binary.BigEndian.AppendUint16(e.buf, v) }
func (e *encoder) u64(v uint64) { e.buf = binary.BigEndian.AppendUint64(e.buf, v) }
func (e *encoder) i64(v int64)  { e.u64(uint64(v)) }

func (e *encoder) flag(v bool) {
	if v {
		e.u8(1)
		return
	}
	e.u8(0)
}

func (e *encoder) shortString(s string) {
	if len(s) > MaxOrderIDLen {
		e.err = ErrOrderIDTooLong
		return
	}
	e.u8(uint8(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *encoder) longString(s string) {
	if len(s) > MaxFrameLen {
		s = s[:MaxFrameLen]
	}
	e.u16(uint16(len(s)))
	e.buf = append(e.buf, s...)
}

// levels writes at most MaxDepthLevels rows, the depth report flags the cut.
func (e *encoder) levels(levels []DepthLevel) {
	if len(levels) > MaxDepthLevels {
		levels = levels[:MaxDepthLevels]
	}
	e.u16(uint16(len(levels)))
	for _, level := range levels {
		e.i64(level.Price)
		e.u64(level.Volume)
	}
}

func (e *encoder) bytes() ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	if len(e.buf) > MaxFrameLen {
		return nil, ErrMessageTooLong
	}
	return e.buf, nil
}

// decoder reads big-endian fields. After the first short read every field
// decodes to its zero value and err is ErrMessageTooShort.
type decoder struct {
	buf []byte
	err error
}

func (d *decoder) next(n int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.buf) < n {
		d.err = ErrMessageTooShort
		return nil
	}
	b := d.buf[:n]
	d.buf = d.buf[n:]
	return b
}

func (d *decoder) u8() uint8 {
	if b := d.next(1); b != nil {
		return b[0]
	}
	return 0
}

func (d *decoder) u16() uint16 {
	if b := d.next(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (d *decoder) u64() uint64 {
	if b := d.next(8); b != nil {
		return binary.BigEndian.Uint64(b)
	}
	return 0
}

func (d *decoder) i64() int64 { return int64(d.u64()) }

func (d *decoder) shortString() string {
	n := int(d.u8())
	return string(d.next(n))
}

func (d *decoder) longString() string {
	n := int(d.u16())
	return string(d.next(n))
}

func (d *decoder) levels() []DepthLevel {
	n := int(d.u16())
	if d.err != nil {
		return nil
	}
	levels := make([]DepthLevel, 0, min(n, len(d.buf)/16))
	for i := 0; i < n && d.err == nil; i++ {
		levels = append(levels, DepthLevel{Price: d.i64(), Volume: d.u64()})
	}
	return levels
}
