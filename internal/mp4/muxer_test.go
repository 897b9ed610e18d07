package mp4

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func avcFrame(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		l := len(n)
		out = append(out, byte(l>>24), byte(l>>16), byte(l>>8), byte(l))
		out = append(out, n...)
	}
	return out
}

func sampleSPSPPS() (sps, pps []byte) {
	// profile_idc=0x42 (baseline), constraint flags=0x00, level_idc=0x1f.
	return []byte{0x67, 0x42, 0x00, 0x1f, 0xaa, 0xbb}, []byte{0x68, 0xce, 0x3c, 0x80}
}

func readBoxTypes(t *testing.T, data []byte) []string {
	t.Helper()
	var types []string
	offset := 0
	for offset+8 <= len(data) {
		size := int(binary.BigEndian.Uint32(data[offset : offset+4]))
		boxType := string(data[offset+4 : offset+8])
		types = append(types, boxType)
		if size < 8 || offset+size > len(data) {
			break
		}
		offset += size
	}
	return types
}

func TestProgressiveMuxer_WritesValidBoxStructure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.mp4")

	m, err := openProgressiveMuxer(path)
	require.NoError(t, err)

	sps, pps := sampleSPSPPS()
	idr := append([]byte{0x65}, make([]byte, 16)...)
	frame := avcFrame(sps, pps, idr)

	require.NoError(t, m.AddSample(0, frame, true))
	require.NoError(t, m.AddSample(3000, avcFrame(append([]byte{0x61}, make([]byte, 8)...)), false))

	size, err := m.FinalizeContent()
	require.NoError(t, err)
	assert.Positive(t, size)
	require.NoError(t, m.Commit())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	types := readBoxTypes(t, data)
	assert.Equal(t, []string{"ftyp", "mdat", "moov"}, types)
	assert.Equal(t, int64(len(data)), size)
}

func TestProgressiveMuxer_NoSamplesFinalizeFails(t *testing.T) {
	dir := t.TempDir()
	m, err := openProgressiveMuxer(filepath.Join(dir, "empty.mp4"))
	require.NoError(t, err)
	defer m.Abort()

	_, err = m.FinalizeContent()
	assert.Error(t, err)
}

func TestProgressiveMuxer_NoParameterSetsFinalizeFails(t *testing.T) {
	dir := t.TempDir()
	m, err := openProgressiveMuxer(filepath.Join(dir, "noparams.mp4"))
	require.NoError(t, err)
	defer m.Abort()

	require.NoError(t, m.AddSample(0, avcFrame([]byte{0x65, 1, 2, 3}), true))
	_, err = m.FinalizeContent()
	assert.Error(t, err)
}

func TestExtractParameterSets_FindsSPSAndPPS(t *testing.T) {
	sps, pps := sampleSPSPPS()
	frame := avcFrame(sps, pps, []byte{0x65, 1})

	gotSPS, gotPPS, ok := extractParameterSets(frame)
	require.True(t, ok)
	assert.True(t, bytes.Equal(sps, gotSPS))
	assert.True(t, bytes.Equal(pps, gotPPS))
}

func TestExtractParameterSets_MissingPPSNotOK(t *testing.T) {
	sps, _ := sampleSPSPPS()
	frame := avcFrame(sps, []byte{0x65, 1})

	_, _, ok := extractParameterSets(frame)
	assert.False(t, ok)
}

func TestSplitAVCUnits_SplitsEachNAL(t *testing.T) {
	frame := avcFrame([]byte{0x67, 1}, []byte{0x68, 2}, []byte{0x65, 3, 4})
	units := splitAVCUnits(frame)
	require.Len(t, units, 3)
	assert.Equal(t, []byte{0x67, 1}, units[0])
	assert.Equal(t, []byte{0x65, 3, 4}, units[2])
}
