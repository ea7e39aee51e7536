package keycodec

import (
	"bytes"
	"sort"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCellKeyRoundTrip(t *testing.T) {
	cases := []struct {
		row, family, qualifier []byte
	}{
		{[]byte("user123"), []byte("cf"), []byte("name")},
		{[]byte{0x00}, []byte{0x00, 0x00}, []byte{0x00}},
		{[]byte{}, []byte("cf"), []byte{}},
		{[]byte{0x01, 0x00, 0xFF}, []byte("f"), []byte{0xFF, 0x00}},
	}

	for _, tc := range cases {
		key := CellKey(tc.row, tc.family, tc.qualifier)
		row, family, qualifier, err := DecodeCell(key)
		require.NoError(t, err)
		assert.Equal(t, tc.row, row)
		assert.Equal(t, tc.family, family)
		assert.Equal(t, tc.qualifier, qualifier)

		decodedRow, err := DecodeRow(key)
		require.NoError(t, err)
		assert.Equal(t, tc.row, decodedRow)

		assert.True(t, bytes.HasPrefix(key, RowPrefix(tc.row)))
		assert.True(t, bytes.HasPrefix(key, FamilyPrefix(tc.row, tc.family)))
	}
}

func TestRowOrderingIsPreserved(t *testing.T) {
	rows := [][]byte{
		[]byte("user10"),
		[]byte("user2"),
		[]byte("user"),
		{0x00},
		{},
		[]byte("user\x00"),
		[]byte("a"),
	}
	for i := 0; i < 50; i++ {
		rows = append(rows, []byte(gofakeit.LetterN(uint(gofakeit.IntRange(0, 8)))))
	}

	keys := make([][]byte, len(rows))
	for i, r := range rows {
		keys[i] = CellKey(r, []byte("cf"), []byte("q"))
	}

	sort.Slice(rows, func(i, j int) bool { return bytes.Compare(rows[i], rows[j]) < 0 })
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })

	for i := range keys {
		row, err := DecodeRow(keys[i])
		require.NoError(t, err)
		assert.Equal(t, rows[i], row, "position %d", i)
	}
}

func TestRowPrefixDoesNotMatchLongerRow(t *testing.T) {
	key := CellKey([]byte("ab"), []byte("cf"), []byte("q"))
	assert.False(t, bytes.HasPrefix(key, RowPrefix([]byte("a"))))
}

func TestDecodeMalformed(t *testing.T) {
	_, _, _, err := DecodeCell([]byte("no-terminator"))
	assert.ErrorIs(t, err, ErrMalformedKey)

	_, _, _, err = DecodeCell([]byte{'a', 0x00, 0x07})
	assert.ErrorIs(t, err, ErrMalformedKey)

	_, _, _, err = DecodeCell([]byte{'a', 0x00})
	assert.ErrorIs(t, err, ErrMalformedKey)
}
