package record

import "fmt"

// Envelope is the self-describing form of any write, used where a
// Mutation or ConditionalMutation has to cross a process boundary.
type Envelope struct {
	Kind      Kind       `json:"kind"`
	RowKey    []byte     `json:"row_key"`
	Cells     []Cell     `json:"cells,omitempty"`
	Deltas    []Delta    `json:"deltas,omitempty"`
	Columns   []Column   `json:"columns,omitempty"`
	Condition *Condition `json:"condition,omitempty"`
}

// Wrap returns the envelope of m.
func Wrap(m Mutation) (Envelope, error) {
	m, err := Deref(m)
	if err != nil {
		return Envelope{}, err
	}
	switch v := m.(type) {
	case Put:
		return Envelope{Kind: KindPut, RowKey: v.RowKey, Cells: v.Cells}, nil
	case Increment:
		return Envelope{Kind: KindIncrement, RowKey: v.RowKey, Deltas: v.Deltas}, nil
	case Delete:
		return Envelope{Kind: KindDelete, RowKey: v.RowKey, Columns: v.Columns}, nil
	}
	return Envelope{}, fmt.Errorf("%w: %T", ErrUnknownMutation, m)
}

// WrapConditional returns the envelope of cm.
func WrapConditional(cm ConditionalMutation) (Envelope, error) {
	cm, err := DerefConditional(cm)
	if err != nil {
		return Envelope{}, err
	}
	cond := cm.Check()
	env, err := Wrap(cm.Action())
	if err != nil {
		return Envelope{}, err
	}
	env.Kind = cm.Kind()
	env.Condition = &cond
	return env, nil
}

// Mutation rebuilds the unconditional write carried by e.
func (e Envelope) Mutation() (Mutation, error) {
	switch e.Kind {
	case KindPut:
		return Put{RowKey: e.RowKey, Cells: e.Cells}, nil
	case KindIncrement:
		return Increment{RowKey: e.RowKey, Deltas: e.Deltas}, nil
	case KindDelete:
		return Delete{RowKey: e.RowKey, Columns: e.Columns}, nil
	}
	return nil, fmt.Errorf("%w: %s is not an unconditional write", ErrUnknownMutation, e.Kind)
}

// Conditional rebuilds the conditional write carried by e.
func (e Envelope) Conditional() (ConditionalMutation, error) {
	if e.Condition == nil {
		return nil, fmt.Errorf("%w: %s without condition", ErrUnknownMutation, e.Kind)
	}
	switch e.Kind {
	case KindCheckAndPut:
		return CheckAndPut{Condition: *e.Condition, Put: Put{RowKey: e.RowKey, Cells: e.Cells}}, nil
	case KindCheckAndDelete:
		return CheckAndDelete{Condition: *e.Condition, Delete: Delete{RowKey: e.RowKey, Columns: e.Columns}}, nil
	}
	return nil, fmt.Errorf("%w: %s is not a conditional write", ErrUnknownMutation, e.Kind)
}
