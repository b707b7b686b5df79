package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	jsoniter "github.com/json-iterator/go"
)

// Structured payload keys.
const (
	keyClickTime = "click_time"
	keyImpTime   = "imp_time"
	keyDauTime   = "dau_time"
	keyStrategy  = "strategy"
	keySite      = "site"
	keyPosID     = "pos_id"
	keyPoiID     = "poi_id"
	keyCost      = "cost"
	keyDeviceID  = "device_id"
	keySessionID = "sessionId"
)

var jsonNumbers = jsoniter.Config{UseNumber: true}.Froze()

var errNotObject = errors.New("payload is not an object")

// Unmarshaler parses a structured payload into a key/value object.
type Unmarshaler func(payload []byte) (map[string]any, error)

// UnmarshalJSON is the default Unmarshaler for structured topics.
func UnmarshalJSON(payload []byte) (map[string]any, error) {
	var obj map[string]any
	if err := jsonNumbers.Unmarshal(payload, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errNotObject
	}
	return obj, nil
}

// objectDecoder is shared by the click, impression and dau decoders; build
// maps the parsed object onto the concrete record.
type objectDecoder struct {
	acc       Counter
	unmarshal Unmarshaler
	build     func(obj fields) (Record, error)
}

func (d *objectDecoder) Init(acc Counter) { d.acc = acc }

func (d *objectDecoder) Decode(payload []byte) (Record, error) {
	d.acc.Add(1)

	obj, err := d.unmarshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return d.build(fields(obj))
}

func newObjectDecoder(u Unmarshaler, build func(fields) (Record, error)) *objectDecoder {
	if u == nil {
		u = UnmarshalJSON
	}
	return &objectDecoder{acc: noopCounter{}, unmarshal: u, build: build}
}

// NewClickDecoder returns a decoder for click payloads. A nil Unmarshaler
// selects JSON.
func NewClickDecoder(u Unmarshaler) Decoder {
	return newObjectDecoder(u, func(f fields) (Record, error) {
		var (
			r   ClickRecord
			err error
		)
		if r.EventTimeMs, err = f.int64(keyClickTime); err != nil {
			return nil, err
		}
		if err = f.strings([]stringField{
			{keyStrategy, &r.Strategy},
			{keySite, &r.Site},
			{keyPosID, &r.PosID},
			{keyPoiID, &r.PoiID},
			{keyDeviceID, &r.DeviceID},
			{keySessionID, &r.SessionID},
		}); err != nil {
			return nil, err
		}
		return r, nil
	})
}

// NewImpressionDecoder returns a decoder for impression payloads.
func NewImpressionDecoder(u Unmarshaler) Decoder {
	return newObjectDecoder(u, func(f fields) (Record, error) {
		var (
			r   ImpressionRecord
			err error
		)
		if r.EventTimeMs, err = f.int64(keyImpTime); err != nil {
			return nil, err
		}
		if r.Cost, err = f.float64(keyCost); err != nil {
			return nil, err
		}
		if err = f.strings([]stringField{
			{keyStrategy, &r.Strategy},
			{keySite, &r.Site},
			{keyPosID, &r.PosID},
			{keyPoiID, &r.PoiID},
			{keyDeviceID, &r.DeviceID},
			{keySessionID, &r.SessionID},
		}); err != nil {
			return nil, err
		}
		return r, nil
	})
}

// NewDauDecoder returns a decoder for daily-active-user payloads.
func NewDauDecoder(u Unmarshaler) Decoder {
	return newObjectDecoder(u, func(f fields) (Record, error) {
		var (
			r   DauRecord
			err error
		)
		if r.EventTimeMs, err = f.int64(keyDauTime); err != nil {
			return nil, err
		}
		if err = f.strings([]stringField{
			{keyDeviceID, &r.DeviceID},
			{keySessionID, &r.SessionID},
		}); err != nil {
			return nil, err
		}
		return r, nil
	})
}

type fields map[string]any

func (f fields) lookup(key string) (any, error) {
	v, ok := f[key]
	if !ok || v == nil {
		return nil, fmt.Errorf("%w: missing key %q", ErrMalformedRecord, key)
	}
	return v, nil
}

func (f fields) int64(key string) (int64, error) {
	v, err := f.lookup(key)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case json.Number:
		if i, convErr := n.Int64(); convErr == nil {
			return i, nil
		}
	case string:
		if i, convErr := strconv.ParseInt(n, decimalBase, 64); convErr == nil {
			return i, nil
		}
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	case float64:
		if n == float64(int64(n)) {
			return int64(n), nil
		}
	}
	return 0, fmt.Errorf("%w: key %q is not an integer: %v", ErrMalformedRecord, key, v)
}

func (f fields) float64(key string) (float64, error) {
	v, err := f.lookup(key)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case json.Number:
		if x, convErr := n.Float64(); convErr == nil {
			return x, nil
		}
	case string:
		if x, convErr := strconv.ParseFloat(n, 64); convErr == nil {
			return x, nil
		}
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int:
		return float64(n), nil
	}
	return 0, fmt.Errorf("%w: key %q is not a number: %v", ErrMalformedRecord, key, v)
}

func (f fields) string(key string) (string, error) {
	v, err := f.lookup(key)
	if err != nil {
		return "", err
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case json.Number:
		return s.String(), nil
	case map[string]any, []any:
		return "", fmt.Errorf("%w: key %q is not a scalar", ErrMalformedRecord, key)
	default:
		return fmt.Sprint(s), nil
	}
}

type stringField struct {
	key string
	dst *string
}

// strings fills each destination in order, stopping at the first error.
func (f fields) strings(want []stringField) error {
	for _, w := range want {
		s, err := f.string(w.key)
		if err != nil {
			return err
		}
		*w.dst = s
	}
	return nil
}
