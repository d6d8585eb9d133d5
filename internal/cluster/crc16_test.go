package cluster

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Reference vectors from spec.md §8 invariant 5 / the Redis Cluster spec.
func TestCRC16ReferenceVectors(t *testing.T) {
	cases := []struct {
		key  string
		slot uint16
	}{
		{"foo", 12182},
		{"bar", 5061},
		{"{user1000}.following", 5474},
	}
	for _, tc := range cases {
		require.Equal(t, tc.slot, SlotString(tc.key), "key %q", tc.key)
	}
}

func TestHashTagExtraction(t *testing.T) {
	cases := []struct {
		key string
		tag string
	}{
		{"{user1000}.following", "user1000"},
		{"{user1000}.followers", "user1000"},
		{"foo{}bar", "foo{}bar"},
		{"foo{bar", "foo{bar"},
		{"foo}bar", "foo}bar"},
		{"{}", "{}"},
		{"a{b}c{d}e", "b"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.tag, string(HashTag([]byte(tc.key))), "key %q", tc.key)
	}
}

func TestSameHashTagSameSlot(t *testing.T) {
	require.Equal(t, SlotString("{user1000}.following"), SlotString("{user1000}.followers"))
}
