// Package record decodes raw transport payloads of the benchmark topics into
// typed records.
package record

import (
	"errors"
)

// Topic names as they appear on the wire and in queries.
const (
	TopicShopping   = "shopping"
	TopicClick      = "click"
	TopicImpression = "imp"
	TopicDau        = "dau"
	TopicUserVisit  = "userVisit"
)

var (
	// ErrMalformedRecord is returned when a payload parses but a required
	// field is absent or has the wrong type.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrDecode is returned when a structured payload cannot be parsed at all.
	ErrDecode = errors.New("decode error")
)

// Record is one decoded event. Values returns the columns in the order of the
// topic schema.
type Record interface {
	Topic() string
	EventTime() int64
	Values() []any
}

// Counter receives one increment per payload a decoder consumes.
type Counter interface {
	Add(n int64)
}

// Decoder turns one payload into exactly one record.
//
// Init attaches the accumulator of the owning topic and must be called before
// the first Decode. The counter is incremented before the payload is parsed,
// so it reflects payloads observed rather than records emitted.
type Decoder interface {
	Init(acc Counter)
	Decode(payload []byte) (Record, error)
}

type ShoppingRecord struct {
	UserID      string
	ItemID      string
	EventTimeMs int64
}

func (r ShoppingRecord) Topic() string    { return TopicShopping }
func (r ShoppingRecord) EventTime() int64 { return r.EventTimeMs }
func (r ShoppingRecord) Values() []any {
	return []any{r.UserID, r.ItemID, r.EventTimeMs}
}

type ClickRecord struct {
	EventTimeMs int64
	Strategy    string
	Site        string
	PosID       string
	PoiID       string
	DeviceID    string
	SessionID   string
}

func (r ClickRecord) Topic() string    { return TopicClick }
func (r ClickRecord) EventTime() int64 { return r.EventTimeMs }
func (r ClickRecord) Values() []any {
	return []any{r.EventTimeMs, r.Strategy, r.Site, r.PosID, r.PoiID, r.DeviceID, r.SessionID}
}

type ImpressionRecord struct {
	EventTimeMs int64
	Strategy    string
	Site        string
	PosID       string
	PoiID       string
	Cost        float64
	DeviceID    string
	SessionID   string
}

func (r ImpressionRecord) Topic() string    { return TopicImpression }
func (r ImpressionRecord) EventTime() int64 { return r.EventTimeMs }
func (r ImpressionRecord) Values() []any {
	return []any{r.EventTimeMs, r.Strategy, r.Site, r.PosID, r.PoiID, r.Cost, r.DeviceID, r.SessionID}
}

type DauRecord struct {
	EventTimeMs int64
	DeviceID    string
	SessionID   string
}

func (r DauRecord) Topic() string    { return TopicDau }
func (r DauRecord) EventTime() int64 { return r.EventTimeMs }
func (r DauRecord) Values() []any {
	return []any{r.EventTimeMs, r.DeviceID, r.SessionID}
}

// UserVisitRecord carries the 13 positional user-visit columns. The event time
// sits at position 4.
type UserVisitRecord struct {
	Field0      string
	Field1      int64
	Field2      string
	Field3      int64
	EventTimeMs int64
	Field5      string
	Field6      string
	Field7      string
	Field8      string
	Field9      string
	Field10     string
	Field11     string
	Field12     int32
}

func (r UserVisitRecord) Topic() string    { return TopicUserVisit }
func (r UserVisitRecord) EventTime() int64 { return r.EventTimeMs }
func (r UserVisitRecord) Values() []any {
	return []any{
		r.Field0, r.Field1, r.Field2, r.Field3, r.EventTimeMs,
		r.Field5, r.Field6, r.Field7, r.Field8, r.Field9, r.Field10, r.Field11,
		r.Field12,
	}
}
