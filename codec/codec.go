// Package codec serialises cache entries for storage in a cache provider.
package codec

import "fmt"

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// Names of the built-in codecs, as used in configuration.
const (
	NameJSON    = "json"
	NameMsgpack = "msgpack"
	NameCBOR    = "cbor"
)

// New returns the codec registered under name. An empty name selects JSON.
// A positive maxDecode rejects stored payloads larger than that many bytes.
func New[V any](name string, maxDecode int) (Codec[V], error) {
	var c Codec[V]
	switch name {
	case "", NameJSON:
		c = JSON[V]{}
	case NameMsgpack:
		c = Msgpack[V]{}
	case NameCBOR:
		cb, err := NewCBOR[V](false)
		if err != nil {
			return nil, err
		}
		c = cb
	default:
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
	if maxDecode > 0 {
		c = Limit[V]{Inner: c, MaxDecode: maxDecode}
	}
	return c, nil
}
