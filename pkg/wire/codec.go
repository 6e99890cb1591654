package wire

import "encoding/json"

// Codec encodes and decodes message bodies. It must be symmetric:
// decode(encode(x)) == x for every supported body shape. Default codec is
// JSON; a pluggable Hessian/protobuf codec can be swapped in by
// implementing this interface.
type Codec interface {
	Name() string
	Encode(v interface{}) ([]byte, error)
	Decode(data []byte, v interface{}) error
}

// JSONCodec is the default Codec implementation.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Decode(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// DefaultCodec is the protocol-default codec used when a message does not
// name one explicitly.
var DefaultCodec Codec = JSONCodec{}
