package commitlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFoldConsecutiveLocations(t *testing.T) {
	tests := []struct {
		name      string
		locations []Location
		want      []Range
	}{
		{
			"empty",
			nil,
			nil,
		},
		{
			"single",
			[]Location{{Offset: 3, Length: 7}},
			[]Range{{Offset: 3, Length: 7, Count: 1}},
		},
		{
			"run then gap",
			[]Location{{Offset: 1, Length: 10}, {Offset: 2, Length: 10}, {Offset: 5, Length: 10}},
			[]Range{{Offset: 1, Length: 20, Count: 2}, {Offset: 5, Length: 10, Count: 1}},
		},
		{
			"all consecutive",
			[]Location{{Offset: 0, Length: 4}, {Offset: 1, Length: 6}, {Offset: 2, Length: 2}},
			[]Range{{Offset: 0, Length: 12, Count: 3}},
		},
		{
			"none consecutive",
			[]Location{{Offset: 9, Length: 1}, {Offset: 4, Length: 1}, {Offset: 7, Length: 1}},
			[]Range{
				{Offset: 9, Length: 1, Count: 1},
				{Offset: 4, Length: 1, Count: 1},
				{Offset: 7, Length: 1, Count: 1},
			},
		},
		{
			"descending adjacency does not merge",
			[]Location{{Offset: 2, Length: 5}, {Offset: 1, Length: 5}},
			[]Range{{Offset: 2, Length: 5, Count: 1}, {Offset: 1, Length: 5, Count: 1}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FoldConsecutiveLocations(tt.locations))
		})
	}
}

func TestLocationIsConsecutive(t *testing.T) {
	assert.True(t, Location{Offset: 5}.IsConsecutive(Location{Offset: 4}))
	assert.False(t, Location{Offset: 6}.IsConsecutive(Location{Offset: 4}))
	assert.False(t, Location{Offset: 4}.IsConsecutive(Location{Offset: 4}))
	assert.False(t, Location{Offset: 3}.IsConsecutive(Location{Offset: 4}))
}

func TestLocationCodecRoundTrip(t *testing.T) {
	in := Location{Offset: 42, Length: 1 << 20}
	data, err := in.Encode()
	require.NoError(t, err)
	require.Len(t, data, IndexRecordBytes)

	var out Location
	require.NoError(t, out.Decode(data))
	assert.Equal(t, in, out)

	assert.Error(t, out.Decode(data[:10]))
}

type blockSummary struct {
	Level uint32 `cbor:"1,keyasint"`
	Hash  []byte `cbor:"2,keyasint"`
}

func TestLoggedRoundTrip(t *testing.T) {
	logs, err := NewLogs(t.TempDir(), []Descriptor{{Name: "block_meta"}}, nil)
	require.NoError(t, err)
	defer logs.Close()

	typed, err := NewLogged[blockSummary](logs, "block_meta")
	require.NoError(t, err)

	values := []blockSummary{
		{Level: 1, Hash: []byte{0xaa}},
		{Level: 2, Hash: []byte{0xbb}},
		{Level: 3, Hash: []byte{0xcc}},
	}
	var locations []Location
	for _, v := range values {
		loc, err := typed.Append(v)
		require.NoError(t, err)
		locations = append(locations, loc)
	}

	got, err := typed.Get(locations[1])
	require.NoError(t, err)
	assert.Equal(t, values[1], got)

	ranges := FoldConsecutiveLocations(locations)
	require.Len(t, ranges, 1)
	all, err := typed.GetRange(ranges[0])
	require.NoError(t, err)
	assert.Equal(t, values, all)
}

func TestLogsUnregisteredName(t *testing.T) {
	logs, err := NewLogs(t.TempDir(), nil, nil)
	require.NoError(t, err)
	defer logs.Close()

	_, err = logs.Append("ghost", []byte("x"))
	assert.ErrorIs(t, err, ErrMissingLog)
	_, err = logs.Get("ghost", Location{})
	assert.ErrorIs(t, err, ErrMissingLog)
}

func TestLogsAppendGetAcrossNames(t *testing.T) {
	logs, err := NewLogs(t.TempDir(), []Descriptor{{Name: "a"}, {Name: "b"}}, nil)
	require.NoError(t, err)
	defer logs.Close()

	locA, err := logs.Append("a", []byte("payload-a"))
	require.NoError(t, err)
	locB, err := logs.Append("b", []byte("payload-b"))
	require.NoError(t, err)

	// both logs start at record zero independently
	assert.Equal(t, uint64(0), locA.Offset)
	assert.Equal(t, uint64(0), locB.Offset)

	va, err := logs.Get("a", locA)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload-a"), va)
	vb, err := logs.Get("b", locB)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload-b"), vb)
}
