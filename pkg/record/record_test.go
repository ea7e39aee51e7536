package record_test

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/ankur-anand/kvbulk/pkg/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterEncoding(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 42, math.MaxInt64, math.MinInt64} {
		got, err := record.DecodeCounter(record.EncodeCounter(v))
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}

	_, err := record.DecodeCounter([]byte("abc"))
	assert.ErrorIs(t, err, record.ErrInvalidCounter)
}

func TestKindText(t *testing.T) {
	for k := record.KindPut; k <= record.KindCheckAndDelete; k++ {
		b, err := k.MarshalText()
		require.NoError(t, err)
		var parsed record.Kind
		require.NoError(t, parsed.UnmarshalText(b))
		assert.Equal(t, k, parsed)
	}

	var k record.Kind
	assert.ErrorIs(t, k.UnmarshalText([]byte("truncate")), record.ErrUnknownMutation)
}

func TestOutcomeJSONUsesKindName(t *testing.T) {
	b, err := json.Marshal(record.Outcome{RowKey: []byte("r"), Kind: record.KindCheckAndPut, Applied: true})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"kind":"check_and_put"`)
}

func TestColumnMatches(t *testing.T) {
	family := record.Column{Family: []byte("cf")}
	assert.True(t, family.IsFamily())
	assert.True(t, family.Matches([]byte("cf"), []byte("anything")))
	assert.False(t, family.Matches([]byte("other"), []byte("anything")))

	col := record.Column{Family: []byte("cf"), Qualifier: []byte("q")}
	assert.True(t, col.Matches([]byte("cf"), []byte("q")))
	assert.False(t, col.Matches([]byte("cf"), []byte("q2")))
}

func TestScanContains(t *testing.T) {
	s := record.Scan{StartRow: []byte("b"), StopRow: []byte("d")}
	assert.False(t, s.Contains([]byte("a")))
	assert.True(t, s.Contains([]byte("b")))
	assert.True(t, s.Contains([]byte("c\xff")))
	assert.False(t, s.Contains([]byte("d")))

	open := record.Scan{}
	assert.True(t, open.Contains([]byte{}))
	assert.True(t, open.Contains([]byte("zzz")))
}

func TestResultAccessors(t *testing.T) {
	r := record.Result{
		RowKey: []byte("row"),
		Cells: []record.Cell{
			{Family: []byte("cf"), Qualifier: []byte("n"), Value: record.EncodeCounter(7)},
			{Family: []byte("cf"), Qualifier: []byte("s"), Value: []byte("v")},
		},
	}
	v, ok := r.Value([]byte("cf"), []byte("s"))
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	n, err := r.Counter([]byte("cf"), []byte("n"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	n, err = r.Counter([]byte("cf"), []byte("missing"))
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.True(t, record.Result{RowKey: []byte("x")}.Empty())
}

func TestDerefNormalisesPointers(t *testing.T) {
	p := record.NewPut([]byte("r")).Add([]byte("cf"), []byte("q"), []byte("v"))
	m, err := record.Deref(p)
	require.NoError(t, err)
	_, isValue := m.(record.Put)
	assert.True(t, isValue)

	c, err := record.DerefConditional(&record.CheckAndDelete{Delete: *record.NewDelete([]byte("r"))})
	require.NoError(t, err)
	assert.Equal(t, record.KindCheckAndDelete, c.Kind())
	assert.Equal(t, []byte("r"), c.Row())
}

func TestEnvelopeCarriesEveryWrite(t *testing.T) {
	cf, q := []byte("cf"), []byte("q")
	writes := []record.Mutation{
		record.NewPut([]byte("p")).Add(cf, q, []byte("v")),
		record.NewIncrement([]byte("i")).Add(cf, q, 3),
		record.NewDelete([]byte("d")).AddFamily(cf),
	}
	for _, m := range writes {
		env, err := record.Wrap(m)
		require.NoError(t, err)

		b, err := json.Marshal(env)
		require.NoError(t, err)
		var decoded record.Envelope
		require.NoError(t, json.Unmarshal(b, &decoded))

		got, err := decoded.Mutation()
		require.NoError(t, err)
		want, err := record.Deref(m)
		require.NoError(t, err)
		assert.Equal(t, want, got)

		_, err = decoded.Conditional()
		assert.ErrorIs(t, err, record.ErrUnknownMutation)
	}
}

func TestEnvelopeKeepsAbsentAndEmptyExpectedApart(t *testing.T) {
	cf, q := []byte("cf"), []byte("q")
	for _, expected := range [][]byte{nil, {}} {
		env, err := record.WrapConditional(record.CheckAndDelete{
			Condition: record.Condition{Family: cf, Qualifier: q, Expected: expected},
			Delete:    record.Delete{RowKey: []byte("r")},
		})
		require.NoError(t, err)
		assert.Equal(t, record.KindCheckAndDelete, env.Kind)

		b, err := json.Marshal(env)
		require.NoError(t, err)
		var decoded record.Envelope
		require.NoError(t, json.Unmarshal(b, &decoded))

		cm, err := decoded.Conditional()
		require.NoError(t, err)
		assert.Equal(t, expected == nil, cm.Check().Expected == nil)
	}
}
