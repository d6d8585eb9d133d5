package resp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeCommand(t *testing.T) {
	out := EncodeCommand([][]byte{[]byte("SET"), []byte("foo"), []byte("bar")})
	require.Equal(t, "*3\r\n$3\r\nSET\r\n$3\r\nfoo\r\n$3\r\nbar\r\n", string(out))
}

func TestEncodeCommandRoundTrip(t *testing.T) {
	out := EncodeCommand([][]byte{[]byte("GET"), []byte("foo")})
	reply, n, err := Decode(out, Protocol2)
	require.NoError(t, err)
	require.Equal(t, len(out), n)
	require.Equal(t, KindArray, reply.Kind)
	require.Len(t, reply.Elems, 2)
	require.Equal(t, "GET", reply.Elems[0].String())
	require.Equal(t, "foo", reply.Elems[1].String())
}

func TestArg(t *testing.T) {
	require.Equal(t, "5", string(Arg(5)))
	require.Equal(t, "5", string(Arg(int64(5))))
	require.Equal(t, "1", string(Arg(true)))
	require.Equal(t, "0", string(Arg(false)))
	require.Equal(t, "inf", string(Arg(posInf)))
	require.Equal(t, "-inf", string(Arg(negInf)))
	require.Equal(t, "nan", string(Arg(nan)))
	require.Equal(t, "hello", string(Arg("hello")))
	require.Equal(t, "hello", string(Arg([]byte("hello"))))
}
