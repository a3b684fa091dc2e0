// Package abi encodes contract calldata: a 4-byte keccak selector of the
// method signature followed by the arguments as a canonical CBOR array.
package abi

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"defitown.org/internal/chain"
)

var (
	ErrShortCalldata   = errors.New("calldata shorter than selector")
	ErrUnknownSelector = errors.New("unknown selector")
	ErrNonPayable      = errors.New("method is not payable")
	ErrInvalidCalldata = errors.New("invalid calldata")
)

// Selector is the first four bytes of keccak256(signature).
type Selector [4]byte

func (s Selector) String() string { return fmt.Sprintf("0x%x", s[:]) }

func SelectorOf(signature string) Selector {
	var s Selector
	h := chain.Keccak256([]byte(signature))
	copy(s[:], h[:4])
	return s
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CanonicalEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if decMode, err = (cbor.DecOptions{MaxArrayElements: 1 << 16}).DecMode(); err != nil {
		panic(err)
	}
}

// Pack builds calldata for signature with args.
func Pack(signature string, args ...any) ([]byte, error) {
	body, err := EncodeReturn(args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", signature, err)
	}
	sel := SelectorOf(signature)
	return append(sel[:], body...), nil
}

// MustPack is Pack for argument lists known to encode.
func MustPack(signature string, args ...any) []byte {
	data, err := Pack(signature, args...)
	if err != nil {
		panic(err)
	}
	return data
}

// Unpack decodes an argument array into dst. The element count must match.
func Unpack(payload []byte, dst ...any) error {
	var raw []cbor.RawMessage
	if len(payload) > 0 {
		if err := decMode.Unmarshal(payload, &raw); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidCalldata, err)
		}
	}
	if len(raw) != len(dst) {
		return fmt.Errorf("%w: want %d arguments, got %d", ErrInvalidCalldata, len(dst), len(raw))
	}
	for i := range dst {
		if err := decMode.Unmarshal(raw[i], dst[i]); err != nil {
			return fmt.Errorf("%w: argument %d: %v", ErrInvalidCalldata, i, err)
		}
	}
	return nil
}

// EncodeReturn encodes return values the same way arguments are encoded.
func EncodeReturn(values ...any) ([]byte, error) {
	if values == nil {
		values = []any{}
	}
	return encMode.Marshal(values)
}

func DecodeReturn(data []byte, dst ...any) error {
	return Unpack(data, dst...)
}

// Returns decodes a single return value; it composes with Bound.Read and Bound.Send.
func Returns[T any](out []byte, err error) (T, error) {
	var v T
	if err != nil {
		return v, err
	}
	if err := DecodeReturn(out, &v); err != nil {
		return v, err
	}
	return v, nil
}

// Marshal encodes a single value canonically; used for adapter parameters.
func Marshal(v any) ([]byte, error) { return encMode.Marshal(v) }

func Unmarshal(data []byte, v any) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCalldata, err)
	}
	return nil
}
