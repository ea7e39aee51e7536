package record

import "fmt"

// Kind enumerates every write request type understood by the store.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindPut
	KindIncrement
	KindDelete
	KindCheckAndPut
	KindCheckAndDelete
)

func (k Kind) String() string {
	switch k {
	case KindPut:
		return "put"
	case KindIncrement:
		return "increment"
	case KindDelete:
		return "delete"
	case KindCheckAndPut:
		return "check_and_put"
	case KindCheckAndDelete:
		return "check_and_delete"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k := KindPut; k <= KindCheckAndDelete; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("%w: %q", ErrUnknownMutation, s)
}

// Mutation is a write that can be batched. The set of implementations is
// closed: Put, Increment and Delete.
type Mutation interface {
	Row() []byte
	Kind() Kind
	mutation()
}

// ConditionalMutation is a write guarded by a store-evaluated predicate.
// The set of implementations is closed: CheckAndPut and CheckAndDelete.
type ConditionalMutation interface {
	Row() []byte
	Kind() Kind
	Check() Condition
	Action() Mutation
	conditional()
}

// Put writes cells to a row, replacing existing values.
type Put struct {
	RowKey []byte `json:"row_key"`
	Cells  []Cell `json:"cells,omitempty"`
}

// NewPut returns a Put for row.
func NewPut(row []byte) *Put {
	return &Put{RowKey: row}
}

// Add appends a cell and returns the Put for chaining.
func (p *Put) Add(family, qualifier, value []byte) *Put {
	p.Cells = append(p.Cells, Cell{Family: family, Qualifier: qualifier, Value: value})
	return p
}

func (p Put) Row() []byte { return p.RowKey }
func (Put) Kind() Kind    { return KindPut }
func (Put) mutation()     {}

// Delta is one counter adjustment of an Increment.
type Delta struct {
	Family    []byte `json:"family"`
	Qualifier []byte `json:"qualifier"`
	Amount    int64  `json:"amount"`
}

// Increment atomically adds deltas to counter cells. A missing cell counts
// from zero.
type Increment struct {
	RowKey []byte  `json:"row_key"`
	Deltas []Delta `json:"deltas,omitempty"`
}

// NewIncrement returns an Increment for row.
func NewIncrement(row []byte) *Increment {
	return &Increment{RowKey: row}
}

// Add appends a delta and returns the Increment for chaining.
func (i *Increment) Add(family, qualifier []byte, amount int64) *Increment {
	i.Deltas = append(i.Deltas, Delta{Family: family, Qualifier: qualifier, Amount: amount})
	return i
}

func (i Increment) Row() []byte { return i.RowKey }
func (Increment) Kind() Kind    { return KindIncrement }
func (Increment) mutation()     {}

// Delete removes columns from a row. With no columns the whole row goes.
type Delete struct {
	RowKey  []byte   `json:"row_key"`
	Columns []Column `json:"columns,omitempty"`
}

// NewDelete returns a whole-row Delete.
func NewDelete(row []byte) *Delete {
	return &Delete{RowKey: row}
}

// AddColumn restricts the delete to family:qualifier.
func (d *Delete) AddColumn(family, qualifier []byte) *Delete {
	d.Columns = append(d.Columns, Column{Family: family, Qualifier: qualifier})
	return d
}

// AddFamily restricts the delete to every qualifier of family.
func (d *Delete) AddFamily(family []byte) *Delete {
	d.Columns = append(d.Columns, Column{Family: family})
	return d
}

func (d Delete) Row() []byte { return d.RowKey }
func (Delete) Kind() Kind    { return KindDelete }
func (Delete) mutation()     {}

// Condition is an equality predicate on one cell. A nil Expected value
// requires the cell to be absent.
type Condition struct {
	Family    []byte `json:"family"`
	Qualifier []byte `json:"qualifier"`
	Expected  []byte `json:"expected"`
}

// CheckAndPut applies Put only if Condition holds.
type CheckAndPut struct {
	Condition Condition `json:"condition"`
	Put       Put       `json:"put"`
}

func (c CheckAndPut) Row() []byte      { return c.Put.RowKey }
func (CheckAndPut) Kind() Kind         { return KindCheckAndPut }
func (c CheckAndPut) Check() Condition { return c.Condition }
func (c CheckAndPut) Action() Mutation { return c.Put }
func (CheckAndPut) conditional()       {}

// CheckAndDelete applies Delete only if Condition holds.
type CheckAndDelete struct {
	Condition Condition `json:"condition"`
	Delete    Delete    `json:"delete"`
}

func (c CheckAndDelete) Row() []byte      { return c.Delete.RowKey }
func (CheckAndDelete) Kind() Kind         { return KindCheckAndDelete }
func (c CheckAndDelete) Check() Condition { return c.Condition }
func (c CheckAndDelete) Action() Mutation { return c.Delete }
func (CheckAndDelete) conditional()       {}

// Outcome reports whether a conditional mutation was applied.
type Outcome struct {
	RowKey  []byte `json:"row_key"`
	Kind    Kind   `json:"kind"`
	Applied bool   `json:"applied"`
}

// Deref returns the value form of a mutation so pointer and value
// receivers can be matched by the same switch.
func Deref(m Mutation) (Mutation, error) {
	switch v := m.(type) {
	case Put, Increment, Delete:
		return v, nil
	case *Put:
		return *v, nil
	case *Increment:
		return *v, nil
	case *Delete:
		return *v, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMutation, m)
	}
}

// DerefConditional is Deref for conditional mutations.
func DerefConditional(m ConditionalMutation) (ConditionalMutation, error) {
	switch v := m.(type) {
	case CheckAndPut, CheckAndDelete:
		return v, nil
	case *CheckAndPut:
		return *v, nil
	case *CheckAndDelete:
		return *v, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMutation, m)
	}
}
