package echo

import (
	"github.com/go-json-experiment/json"
)

// Descriptor decodes the raw data of a response. A nil Descriptor behaves
// like Void.
type Descriptor interface {
	// Decode parses raw into the registered response type.
	Decode(raw []byte) (any, error)

	// Name labels the type in diagnostics.
	Name() string
}

// Void ignores response data; the pending future receives a nil value.
var Void Descriptor = voidDescriptor{}

type voidDescriptor struct{}

func (voidDescriptor) Decode([]byte) (any, error) { return nil, nil }
func (voidDescriptor) Name() string               { return "void" }

// JSON returns a Descriptor that decodes JSON into a T value. Member names
// match struct fields case-insensitively, so untagged fields still decode.
func JSON[T any]() Descriptor {
	return jsonDescriptor[T]{}
}

type jsonDescriptor[T any] struct{}

func (jsonDescriptor[T]) Decode(raw []byte) (any, error) {
	var v T
	if err := json.Unmarshal(raw, &v, json.MatchCaseInsensitiveNames(true)); err != nil {
		return nil, err
	}
	return v, nil
}

func (jsonDescriptor[T]) Name() string {
	var v T
	return typeName(v)
}
