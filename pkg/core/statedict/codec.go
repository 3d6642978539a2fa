// Copyright 2024-2026 The GoTron Authors. SPDX-License-Identifier: Apache-2.0

package statedict

import (
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

const (
	binHeader     = "gotron_statedict"
	lenBinHeader  = len(binHeader)
	gzipHeader    = "gzip"
	lenGzipHeader = uint8(len(gzipHeader))
)

// Format header
//
// ---------------------------------------------
// | 0                 15 | 16  | 17    16+len |
// ---------------------------------------------
// |  "gotron_statedict"  | len |  "gzip"      |
//
// The gzip stream that follows holds a big-endian uint64 with the length of
// the JSON value tree, the JSON tree itself, and then the raw tensor
// payloads concatenated in tree traversal order (dicts in key order, lists
// in element order).

// serializedNode is one node of the value tree as read and written from storage.
type serializedNode struct {
	// Kind is one of "dict", "list", "tensor" or "scalar".
	Kind string

	// Keys and Values hold dict entries (parallel slices, insertion order).
	// For lists, only Values is set.
	Keys   []string         `json:",omitempty"`
	Values []serializedNode `json:",omitempty"`

	// Dimensions and DType of a tensor; Pos and Length locate its payload
	// in bytes within the binary section.
	Dimensions []int        `json:",omitempty"`
	DType      dtypes.DType `json:",omitempty"`
	Pos        int          `json:",omitempty"`
	Length     int          `json:",omitempty"`

	// Scalar value and its original type, since the JSON decoder alone
	// cannot recover the type of an anonymous (any) value.
	Scalar     any    `json:",omitempty"`
	ScalarType string `json:",omitempty"`
}

// Write serializes the Dict to w. See the package comment and the format
// description above.
func Write(w io.Writer, d *Dict) error {
	var payloads [][]byte
	pos := 0
	var encode func(value any) (serializedNode, error)
	encode = func(value any) (serializedNode, error) {
		switch v := value.(type) {
		case *Dict:
			node := serializedNode{Kind: "dict", Keys: v.Keys()}
			node.Values = make([]serializedNode, 0, len(node.Keys))
			for _, key := range node.Keys {
				child, err := encode(v.values[key])
				if err != nil {
					return serializedNode{}, errors.WithMessagef(err, "in dict key %q", key)
				}
				node.Values = append(node.Values, child)
			}
			return node, nil
		case List:
			node := serializedNode{Kind: "list"}
			node.Values = make([]serializedNode, 0, len(v))
			for ii, element := range v {
				child, err := encode(element)
				if err != nil {
					return serializedNode{}, errors.WithMessagef(err, "in list element %d", ii)
				}
				node.Values = append(node.Values, child)
			}
			return node, nil
		case *Tensor:
			node := serializedNode{
				Kind:       "tensor",
				Dimensions: v.Dimensions(),
				DType:      v.dtype,
				Pos:        pos,
				Length:     len(v.data),
			}
			payloads = append(payloads, v.data)
			pos += len(v.data)
			return node, nil
		case bool, int64, float64, string:
			return serializedNode{Kind: "scalar", Scalar: v, ScalarType: scalarTypeName(v)}, nil
		default:
			return serializedNode{}, errors.Errorf("unsupported state value type %T", value)
		}
	}

	root, err := encode(d)
	if err != nil {
		return errors.WithMessage(err, "failed to serialize state dict")
	}
	jsonTree, err := json.Marshal(&root)
	if err != nil {
		return errors.Wrap(err, "failed to encode state dict tree")
	}

	var header []byte
	header = append(header, []byte(binHeader)...)
	header = append(header, byte(lenGzipHeader))
	header = append(header, []byte(gzipHeader)...)
	if _, err = w.Write(header); err != nil {
		return errors.Wrap(err, "failed to write state dict header")
	}

	zw := gzip.NewWriter(w)
	if err = binary.Write(zw, binary.BigEndian, uint64(len(jsonTree))); err != nil {
		return errors.Wrap(err, "failed to write state dict tree size")
	}
	if _, err = zw.Write(jsonTree); err != nil {
		return errors.Wrap(err, "failed to write state dict tree")
	}
	for _, payload := range payloads {
		if _, err = zw.Write(payload); err != nil {
			return errors.Wrap(err, "failed to write tensor payload")
		}
	}
	if err = zw.Close(); err != nil {
		return errors.Wrap(err, "failed to flush state dict")
	}
	return nil
}

func scalarTypeName(v any) string {
	switch v.(type) {
	case bool:
		return "bool"
	case int64:
		return "int64"
	case float64:
		return "float64"
	case string:
		return "string"
	}
	return ""
}

// Read deserializes a Dict from r, materializing tensor data onto the given
// device placement tag.
func Read(r io.Reader, device Device) (*Dict, error) {
	buf := make([]byte, lenBinHeader)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.Wrap(err, "failed to read state dict header")
	}
	if string(buf) != binHeader {
		return nil, errors.Errorf("not a state dict blob: bad header %q", buf)
	}
	var headerZipLen uint8
	if err := binary.Read(r, binary.BigEndian, &headerZipLen); err != nil {
		return nil, errors.Wrap(err, "failed to read state dict header")
	}
	buf = make([]byte, headerZipLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.Wrap(err, "failed to read state dict header")
	}
	if string(buf) != gzipHeader {
		return nil, errors.Errorf("unsupported state dict compression %q", buf)
	}

	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read gzip header")
	}
	defer func() { _ = zr.Close() }()

	var treeSize uint64
	if err = binary.Read(zr, binary.BigEndian, &treeSize); err != nil {
		return nil, errors.Wrap(err, "failed to read state dict tree size")
	}
	jsonTree := make([]byte, treeSize)
	if _, err = io.ReadFull(zr, jsonTree); err != nil {
		return nil, errors.Wrap(err, "failed to read state dict tree")
	}
	var root serializedNode
	if err = json.Unmarshal(jsonTree, &root); err != nil {
		return nil, errors.Wrap(err, "failed to decode state dict tree")
	}

	// Tensor payloads are stored in traversal order; decode sequentially.
	memoryPos := 0
	var decode func(node *serializedNode) (any, error)
	decode = func(node *serializedNode) (any, error) {
		switch node.Kind {
		case "dict":
			if len(node.Keys) != len(node.Values) {
				return nil, errors.Errorf("corrupted dict node: %d keys but %d values",
					len(node.Keys), len(node.Values))
			}
			sub := New()
			for ii, key := range node.Keys {
				value, err := decode(&node.Values[ii])
				if err != nil {
					return nil, errors.WithMessagef(err, "in dict key %q", key)
				}
				sub.Set(key, value)
			}
			return sub, nil
		case "list":
			list := make(List, 0, len(node.Values))
			for ii := range node.Values {
				value, err := decode(&node.Values[ii])
				if err != nil {
					return nil, errors.WithMessagef(err, "in list element %d", ii)
				}
				list = append(list, value)
			}
			return list, nil
		case "tensor":
			tensor := NewTensor(node.DType, node.Dimensions...)
			tensor.device = device
			if len(tensor.data) != node.Length {
				return nil, errors.Errorf("tensor %s payload length %d does not match its shape",
					tensor, node.Length)
			}
			if node.Pos != memoryPos {
				return nil, errors.Errorf("tensor payload at %d is out-of-order, expected %d",
					node.Pos, memoryPos)
			}
			if _, err := io.ReadFull(zr, tensor.data); err != nil {
				return nil, errors.Wrapf(err, "failed to read tensor payload at %d", node.Pos)
			}
			memoryPos += node.Length
			return tensor, nil
		case "scalar":
			return decodeScalar(node)
		default:
			return nil, errors.Errorf("unknown state dict node kind %q", node.Kind)
		}
	}

	value, err := decode(&root)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to deserialize state dict")
	}
	d, ok := value.(*Dict)
	if !ok {
		return nil, errors.Errorf("state dict root is a %T, expected a dict", value)
	}
	return d, nil
}

// decodeScalar recovers the original scalar type: the JSON decoder turns all
// numbers into float64.
func decodeScalar(node *serializedNode) (any, error) {
	switch node.ScalarType {
	case "bool":
		v, ok := node.Scalar.(bool)
		if !ok {
			return nil, errors.Errorf("corrupted bool scalar %v", node.Scalar)
		}
		return v, nil
	case "int64":
		v, ok := node.Scalar.(float64)
		if !ok {
			return nil, errors.Errorf("corrupted int64 scalar %v", node.Scalar)
		}
		return int64(v), nil
	case "float64":
		v, ok := node.Scalar.(float64)
		if !ok {
			return nil, errors.Errorf("corrupted float64 scalar %v", node.Scalar)
		}
		return v, nil
	case "string":
		v, ok := node.Scalar.(string)
		if !ok {
			return nil, errors.Errorf("corrupted string scalar %v", node.Scalar)
		}
		return v, nil
	default:
		return nil, errors.Errorf("unknown scalar type %q", node.ScalarType)
	}
}
