package resp

import (
	"fmt"
	"strconv"
)

// EncodeCommand renders argv as a RESP array of bulk strings — the wire
// form every outgoing command takes, irrespective of negotiated RESP
// version (§4.1). argv[0] is the command token, case preserved; later
// elements are literal caller-supplied bytes. Grounded on
// internal/redisx/client.go's writeCommand/writeBulk, generalized to
// operate on an explicit byte slice instead of a *bytes.Buffer tied to one
// connection.
func EncodeCommand(argv [][]byte) []byte {
	size := 1 + len(itoaBuf(len(argv))) + 2
	for _, a := range argv {
		size += 1 + len(itoaBuf(len(a))) + 2 + len(a) + 2
	}
	out := make([]byte, 0, size)
	out = append(out, '*')
	out = strconv.AppendInt(out, int64(len(argv)), 10)
	out = append(out, '\r', '\n')
	for _, a := range argv {
		out = append(out, '$')
		out = strconv.AppendInt(out, int64(len(a)), 10)
		out = append(out, '\r', '\n')
		out = append(out, a...)
		out = append(out, '\r', '\n')
	}
	return out
}

func itoaBuf(n int) []byte { return strconv.AppendInt(nil, int64(n), 10) }

// Arg converts a typed command argument to its wire bytes: numeric
// arguments are decimal ASCII, floats are the shortest round-trip decimal
// (or inf/-inf/nan), bools are "1"/"0", and everything else uses its
// natural string form. There is no escaping — RESP is length-prefixed.
func Arg(v any) []byte {
	switch t := v.(type) {
	case []byte:
		return t
	case string:
		return []byte(t)
	case int:
		return strconv.AppendInt(nil, int64(t), 10)
	case int64:
		return strconv.AppendInt(nil, t, 10)
	case uint64:
		return strconv.AppendUint(nil, t, 10)
	case float64:
		return []byte(formatFloat(t))
	case float32:
		return []byte(formatFloat(float64(t)))
	case bool:
		if t {
			return []byte{'1'}
		}
		return []byte{'0'}
	case nil:
		return nil
	case fmt.Stringer:
		return []byte(t.String())
	default:
		return []byte(fmt.Sprint(v))
	}
}
