package mwapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

var (
	ErrNotFound  = errors.New("mwapi: node not found")
	ErrWrongKind = errors.New("mwapi: node has wrong kind")
)

type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Node is one value of a decoded API response. A nil *Node reads as JSON null.
// Numbers keep their literal text so that IDs and continuation values round-trip unchanged.
type Node struct {
	kind Kind
	b    bool
	text string // number literal or string value

	elems []*Node

	keys   []string
	fields map[string]*Node
}

func Null() *Node { return &Node{kind: KindNull} }
func NewBool(v bool) *Node { return &Node{kind: KindBool, b: v} }
func NewString(v string) *Node { return &Node{kind: KindString, text: v} }
func NewNumber(lit string) *Node { return &Node{kind: KindNumber, text: lit} }

func NewInt(v int64) *Node { return NewNumber(strconv.FormatInt(v, 10)) }

func NewArray(elems ...*Node) *Node {
	return &Node{kind: KindArray, elems: append([]*Node(nil), elems...)}
}

func NewObject() *Node {
	return &Node{kind: KindObject, fields: map[string]*Node{}}
}

func ParseNode(data []byte) (*Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	n, err := decodeNode(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("mwapi: trailing data after JSON document")
	}
	return n, nil
}

func decodeNode(dec *json.Decoder) (*Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return NewBool(t), nil
	case json.Number:
		return NewNumber(t.String()), nil
	case string:
		return NewString(t), nil
	case json.Delim:
		switch t {
		case '[':
			arr := NewArray()
			for dec.More() {
				el, err := decodeNode(dec)
				if err != nil {
					return nil, err
				}
				arr.elems = append(arr.elems, el)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return arr, nil
		case '{':
			obj := NewObject()
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := kt.(string)
				if !ok {
					return nil, fmt.Errorf("mwapi: unexpected object key %v", kt)
				}
				val, err := decodeNode(dec)
				if err != nil {
					return nil, err
				}
				obj.Set(key, val)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return obj, nil
		}
	}
	return nil, fmt.Errorf("mwapi: unexpected JSON token %v", tok)
}

func (n *Node) Kind() Kind {
	if n == nil {
		return KindNull
	}
	return n.kind
}

func (n *Node) IsNull() bool { return n.Kind() == KindNull }

func (n *Node) Get(key string) (*Node, error) {
	if n.Kind() != KindObject {
		return nil, fmt.Errorf("%w: get %q on %s", ErrWrongKind, key, n.Kind())
	}
	v, ok := n.fields[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	return v, nil
}

func (n *Node) Has(key string) bool {
	_, err := n.Get(key)
	return err == nil
}

// Path walks nested objects, e.g. Path("query", "tokens", "csrftoken").
func (n *Node) Path(keys ...string) (*Node, error) {
	cur := n
	for i, k := range keys {
		next, err := cur.Get(k)
		if err != nil {
			if i > 0 {
				return nil, fmt.Errorf("%w (under %v)", err, keys[:i])
			}
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

func (n *Node) Index(i int) (*Node, error) {
	if n.Kind() != KindArray {
		return nil, fmt.Errorf("%w: index %d on %s", ErrWrongKind, i, n.Kind())
	}
	if i < 0 || i >= len(n.elems) {
		return nil, fmt.Errorf("%w: index %d of %d", ErrNotFound, i, len(n.elems))
	}
	return n.elems[i], nil
}

func (n *Node) Len() int {
	switch n.Kind() {
	case KindArray:
		return len(n.elems)
	case KindObject:
		return len(n.keys)
	default:
		return 0
	}
}

// Keys returns object keys in document order.
func (n *Node) Keys() []string {
	if n.Kind() != KindObject {
		return nil
	}
	return append([]string(nil), n.keys...)
}

func (n *Node) Elems() []*Node {
	if n.Kind() != KindArray {
		return nil
	}
	return append([]*Node(nil), n.elems...)
}

func (n *Node) AsString() (string, error) {
	if n.Kind() != KindString {
		return "", fmt.Errorf("%w: want string, got %s", ErrWrongKind, n.Kind())
	}
	return n.text, nil
}

func (n *Node) AsBool() (bool, error) {
	if n.Kind() != KindBool {
		return false, fmt.Errorf("%w: want bool, got %s", ErrWrongKind, n.Kind())
	}
	return n.b, nil
}

func (n *Node) AsInt64() (int64, error) {
	if n.Kind() != KindNumber {
		return 0, fmt.Errorf("%w: want number, got %s", ErrWrongKind, n.Kind())
	}
	return strconv.ParseInt(n.text, 10, 64)
}

func (n *Node) AsFloat64() (float64, error) {
	if n.Kind() != KindNumber {
		return 0, fmt.Errorf("%w: want number, got %s", ErrWrongKind, n.Kind())
	}
	return strconv.ParseFloat(n.text, 64)
}

// Text renders scalars the way they appear in a query string: strings as-is,
// numbers by their literal, booleans as "true"/"false", null as "".
// Arrays and objects render as compact JSON.
func (n *Node) Text() string {
	switch n.Kind() {
	case KindNull:
		return ""
	case KindBool:
		return strconv.FormatBool(n.b)
	case KindNumber, KindString:
		return n.text
	default:
		b, _ := n.MarshalJSON()
		return string(b)
	}
}

// Set adds or replaces a field. It panics when n is not an object.
func (n *Node) Set(key string, v *Node) {
	if n.Kind() != KindObject {
		panic(fmt.Sprintf("mwapi: Set on %s node", n.Kind()))
	}
	if v == nil {
		v = Null()
	}
	if _, ok := n.fields[key]; !ok {
		n.keys = append(n.keys, key)
	}
	n.fields[key] = v
}

func (n *Node) Delete(key string) {
	if n.Kind() != KindObject {
		return
	}
	if _, ok := n.fields[key]; !ok {
		return
	}
	delete(n.fields, key)
	for i, k := range n.keys {
		if k == key {
			n.keys = append(n.keys[:i], n.keys[i+1:]...)
			break
		}
	}
}

// Append adds elements. It panics when n is not an array.
func (n *Node) Append(vs ...*Node) {
	if n.Kind() != KindArray {
		panic(fmt.Sprintf("mwapi: Append on %s node", n.Kind()))
	}
	for _, v := range vs {
		if v == nil {
			v = Null()
		}
		n.elems = append(n.elems, v)
	}
}

func (n *Node) Clone() *Node {
	if n == nil {
		return Null()
	}
	out := &Node{kind: n.kind, b: n.b, text: n.text}
	switch n.kind {
	case KindArray:
		out.elems = make([]*Node, len(n.elems))
		for i, el := range n.elems {
			out.elems[i] = el.Clone()
		}
	case KindObject:
		out.keys = append([]string(nil), n.keys...)
		out.fields = make(map[string]*Node, len(n.fields))
		for k, v := range n.fields {
			out.fields[k] = v.Clone()
		}
	}
	return out
}

func (n *Node) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := n.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (n *Node) encode(buf *bytes.Buffer) error {
	switch n.Kind() {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(n.b))
	case KindNumber:
		buf.WriteString(n.text)
	case KindString:
		b, err := json.Marshal(n.text)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindArray:
		buf.WriteByte('[')
		for i, el := range n.elems {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := el.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		for i, k := range n.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := n.fields[k].encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}
	return nil
}

func (n *Node) UnmarshalJSON(data []byte) error {
	parsed, err := ParseNode(data)
	if err != nil {
		return err
	}
	*n = *parsed
	return nil
}

// Decode converts the tree into a Go value through encoding/json.
func (n *Node) Decode(out any) error {
	b, err := n.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func (n *Node) String() string {
	b, err := n.MarshalJSON()
	if err != nil {
		return "<invalid node: " + err.Error() + ">"
	}
	return string(b)
}

// Equal reports deep equality. Object key order is ignored; array order is not.
func (n *Node) Equal(o *Node) bool {
	if n.Kind() != o.Kind() {
		return false
	}
	switch n.Kind() {
	case KindNull:
		return true
	case KindBool:
		return n.b == o.b
	case KindNumber, KindString:
		return n.text == o.text
	case KindArray:
		if len(n.elems) != len(o.elems) {
			return false
		}
		for i := range n.elems {
			if !n.elems[i].Equal(o.elems[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(n.fields) != len(o.fields) {
			return false
		}
		for k, v := range n.fields {
			ov, ok := o.fields[k]
			if !ok || !v.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}
