// Package resp implements the RESP2/RESP3 wire protocol: encoding of
// outgoing commands and decoding of inbound replies into a tagged Reply
// value. See internal/redisx/client.go in the teacher for the RESP2
// tag-dispatch technique this generalizes.
package resp

// Kind identifies the variant carried by a Reply.
type Kind uint8

const (
	KindSimpleString Kind = iota
	KindError
	KindInteger
	KindBulkString
	KindArray
	KindNull
	KindDouble
	KindBoolean
	KindBigInt
	KindMap
	KindSet
	KindPush
	KindVerbatim
	KindAttribute
)

func (k Kind) String() string {
	switch k {
	case KindSimpleString:
		return "SimpleString"
	case KindError:
		return "Error"
	case KindInteger:
		return "Integer"
	case KindBulkString:
		return "BulkString"
	case KindArray:
		return "Array"
	case KindNull:
		return "Null"
	case KindDouble:
		return "Double"
	case KindBoolean:
		return "Boolean"
	case KindBigInt:
		return "BigInt"
	case KindMap:
		return "Map"
	case KindSet:
		return "Set"
	case KindPush:
		return "Push"
	case KindVerbatim:
		return "Verbatim"
	case KindAttribute:
		return "Attribute"
	default:
		return "Unknown"
	}
}

// Pair is one key/value entry of a Map reply.
type Pair struct {
	Key   Reply
	Value Reply
}

// Reply is a parsed server response. It is a tagged union: callers switch
// on Kind and read only the fields that variant defines. A Reply is owned
// by the waiter it was delivered to and is not safe to retain across a
// reconnect generation boundary without copying (Bytes data is not shared
// with the decode buffer — see Decode).
type Reply struct {
	Kind Kind

	// SimpleString, Error, BigInt (decimal ASCII), Verbatim payload.
	Str []byte

	// Integer.
	Int int64

	// Double.
	Dbl float64

	// Boolean.
	Bool bool

	// True when a BulkString or Array carries the null variant.
	IsNil bool

	// Array, Set, Push elements; for Attribute, unused (see Inner).
	Elems []Reply

	// Map pairs.
	Pairs []Pair

	// Verbatim 3-byte format prefix, e.g. "txt" or "mkd".
	VerbatimFormat [3]byte

	// Attribute: Attrs is the attribute map, Inner the value it decorates.
	Attrs *Reply
	Inner *Reply
}

// SimpleString builds a SimpleString reply.
func SimpleString(s string) Reply { return Reply{Kind: KindSimpleString, Str: []byte(s)} }

// Err builds an Error reply.
func Err(s string) Reply { return Reply{Kind: KindError, Str: []byte(s)} }

// Integer builds an Integer reply.
func Integer(v int64) Reply { return Reply{Kind: KindInteger, Int: v} }

// BulkString builds a non-null BulkString reply.
func BulkString(b []byte) Reply { return Reply{Kind: KindBulkString, Str: b} }

// NilBulkString builds the null BulkString reply.
func NilBulkString() Reply { return Reply{Kind: KindBulkString, IsNil: true} }

// Array builds a non-null Array reply.
func Array(elems []Reply) Reply { return Reply{Kind: KindArray, Elems: elems} }

// NilArray builds the null Array reply.
func NilArray() Reply { return Reply{Kind: KindArray, IsNil: true} }

// IsError reports whether the reply is a RESP error.
func (r Reply) IsError() bool { return r.Kind == KindError }

// String returns the textual payload for string-shaped variants; for other
// kinds it returns the empty string.
func (r Reply) String() string {
	switch r.Kind {
	case KindSimpleString, KindError, KindBulkString, KindBigInt, KindVerbatim:
		if r.IsNil {
			return ""
		}
		return string(r.Str)
	default:
		return ""
	}
}
