package record

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	fieldSeparator = ","
	shoppingFields = 3
	userVisitField = 13
	decimalBase    = 10
)

// noopCounter keeps Decode usable before Init.
type noopCounter struct{}

func (noopCounter) Add(int64) {}

// ShoppingDecoder decodes "userId,itemId,eventTimeMs" lines.
type ShoppingDecoder struct {
	acc Counter
}

func NewShoppingDecoder() *ShoppingDecoder {
	return &ShoppingDecoder{acc: noopCounter{}}
}

func (d *ShoppingDecoder) Init(acc Counter) { d.acc = acc }

func (d *ShoppingDecoder) Decode(payload []byte) (Record, error) {
	d.acc.Add(1)

	split, err := splitFields(payload, shoppingFields)
	if err != nil {
		return nil, err
	}
	ts, err := parseInt(split, 2, 64)
	if err != nil {
		return nil, err
	}
	return ShoppingRecord{UserID: split[0], ItemID: split[1], EventTimeMs: ts}, nil
}

// UserVisitDecoder decodes the 13-column user-visit lines.
type UserVisitDecoder struct {
	acc Counter
}

func NewUserVisitDecoder() *UserVisitDecoder {
	return &UserVisitDecoder{acc: noopCounter{}}
}

func (d *UserVisitDecoder) Init(acc Counter) { d.acc = acc }

func (d *UserVisitDecoder) Decode(payload []byte) (Record, error) {
	d.acc.Add(1)

	split, err := splitFields(payload, userVisitField)
	if err != nil {
		return nil, err
	}

	var longs [3]int64
	for i, pos := range []int{1, 3, 4} {
		if longs[i], err = parseInt(split, pos, 64); err != nil {
			return nil, err
		}
	}
	last, err := parseInt(split, 12, 32)
	if err != nil {
		return nil, err
	}

	return UserVisitRecord{
		Field0:      split[0],
		Field1:      longs[0],
		Field2:      split[2],
		Field3:      longs[1],
		EventTimeMs: longs[2],
		Field5:      split[5],
		Field6:      split[6],
		Field7:      split[7],
		Field8:      split[8],
		Field9:      split[9],
		Field10:     split[10],
		Field11:     split[11],
		Field12:     int32(last), //nolint:gosec // parsed with bitSize 32
	}, nil
}

func splitFields(payload []byte, want int) ([]string, error) {
	split := strings.Split(string(payload), fieldSeparator)
	if len(split) < want {
		return nil, fmt.Errorf("%w: expected %d fields, got %d", ErrMalformedRecord, want, len(split))
	}
	return split, nil
}

func parseInt(split []string, pos, bitSize int) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(split[pos]), decimalBase, bitSize)
	if err != nil {
		return 0, fmt.Errorf("%w: field %d: %v", ErrMalformedRecord, pos, err)
	}
	return v, nil
}
