package chain

import (
	"fmt"
	"math/big"
)

// Call is one (target, value, data) triple.
type Call struct {
	Target Address  `json:"target"`
	Value  *big.Int `json:"value"`
	Data   []byte   `json:"data"`
}

// CallBatch is the ordered list of calls an adapter prepares and an
// execution account runs. It travels as three parallel sequences.
type CallBatch struct {
	Targets []Address  `json:"targets" cbor:"targets"`
	Values  []*big.Int `json:"values" cbor:"values"`
	Datas   [][]byte   `json:"datas" cbor:"datas"`
}

func NewCallBatch(calls ...Call) CallBatch {
	var b CallBatch
	for _, c := range calls {
		b.Append(c)
	}
	return b
}

func (b *CallBatch) Append(c Call) {
	v := new(big.Int)
	if c.Value != nil {
		v.Set(c.Value)
	}
	b.Targets = append(b.Targets, c.Target)
	b.Values = append(b.Values, v)
	b.Datas = append(b.Datas, append([]byte(nil), c.Data...))
}

func (b CallBatch) Len() int { return len(b.Targets) }

// Validate reports ErrLengthMismatch unless the three sequences line up.
func (b CallBatch) Validate() error {
	if len(b.Targets) != len(b.Values) || len(b.Targets) != len(b.Datas) {
		return fmt.Errorf("%w: %d targets, %d values, %d datas", ErrLengthMismatch, len(b.Targets), len(b.Values), len(b.Datas))
	}
	return nil
}

// Calls zips the batch back into triples. The batch must be valid.
func (b CallBatch) Calls() []Call {
	out := make([]Call, len(b.Targets))
	for i := range b.Targets {
		v := b.Values[i]
		if v == nil {
			v = new(big.Int)
		}
		out[i] = Call{Target: b.Targets[i], Value: v, Data: b.Datas[i]}
	}
	return out
}
