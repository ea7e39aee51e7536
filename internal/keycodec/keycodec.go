// Package keycodec encodes wide-column cell coordinates into storage keys.
//
// Format: [escaped row][0x00 0x01][escaped family][0x00 0x01][qualifier]
//
// Inside an escaped field every 0x00 byte is written as 0x00 0xFF, so the
// 0x00 0x01 terminator can never appear in field data. Because 0x01 < 0xFF
// and any non-zero byte is greater than 0x00, bytewise comparison of the
// encoded keys orders cells by row, then family, then qualifier, which is
// what a B-tree range scan over rows needs. Length prefixes would instead
// order rows by length first.
package keycodec

import (
	"bytes"
	"errors"
)

const (
	escapeByte     byte = 0x00
	escapedZero    byte = 0xFF
	terminatorByte byte = 0x01
)

var ErrMalformedKey = errors.New("malformed cell key")

var terminator = []byte{escapeByte, terminatorByte}

// AppendField appends b escaped and terminated to dst.
func AppendField(dst, b []byte) []byte {
	for _, c := range b {
		if c == escapeByte {
			dst = append(dst, escapeByte, escapedZero)
			continue
		}
		dst = append(dst, c)
	}
	return append(dst, terminator...)
}

// RowPrefix returns the prefix shared by every cell of row.
func RowPrefix(row []byte) []byte {
	return AppendField(make([]byte, 0, len(row)+2), row)
}

// FamilyPrefix returns the prefix shared by every cell of row in family.
func FamilyPrefix(row, family []byte) []byte {
	b := make([]byte, 0, len(row)+len(family)+4)
	b = AppendField(b, row)
	return AppendField(b, family)
}

// CellKey returns the storage key of row:family:qualifier.
func CellKey(row, family, qualifier []byte) []byte {
	b := make([]byte, 0, len(row)+len(family)+len(qualifier)+4)
	b = AppendField(b, row)
	b = AppendField(b, family)
	return append(b, qualifier...)
}

// DecodeCell splits a storage key back into its coordinates. The returned
// slices do not alias key.
func DecodeCell(key []byte) (row, family, qualifier []byte, err error) {
	row, rest, err := readField(key)
	if err != nil {
		return nil, nil, nil, err
	}
	family, rest, err = readField(rest)
	if err != nil {
		return nil, nil, nil, err
	}
	return row, family, bytes.Clone(rest), nil
}

// DecodeRow returns only the row part of a storage key.
func DecodeRow(key []byte) ([]byte, error) {
	row, _, err := readField(key)
	return row, err
}

func readField(b []byte) (field, rest []byte, err error) {
	field = make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		c := b[i]
		if c != escapeByte {
			field = append(field, c)
			continue
		}
		if i+1 >= len(b) {
			return nil, nil, ErrMalformedKey
		}
		switch b[i+1] {
		case escapedZero:
			field = append(field, escapeByte)
			i++
		case terminatorByte:
			return field, b[i+2:], nil
		default:
			return nil, nil, ErrMalformedKey
		}
	}
	return nil, nil, ErrMalformedKey
}
