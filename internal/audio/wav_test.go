package audio

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeWAVHeader(t *testing.T) {
	pcm := SamplesToBytes([]int16{1, 2, 3, 4})
	wav := EncodeWAV(pcm, 16000)

	require.Len(t, wav, 44+len(pcm))
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, "fmt ", string(wav[12:16]))
	assert.Equal(t, "data", string(wav[36:40]))
	assert.Equal(t, uint32(36+len(pcm)), binary.LittleEndian.Uint32(wav[4:8]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(wav[20:22]), "PCM")
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(wav[22:24]), "mono")
	assert.Equal(t, uint32(16000), binary.LittleEndian.Uint32(wav[24:28]))
	assert.Equal(t, uint32(32000), binary.LittleEndian.Uint32(wav[28:32]))
	assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(wav[34:36]))
	assert.Equal(t, uint32(len(pcm)), binary.LittleEndian.Uint32(wav[40:44]))
	assert.Equal(t, pcm, wav[44:])
}

func TestEncodeWAVDropsOddByte(t *testing.T) {
	wav := EncodeWAV([]byte{1, 2, 3}, 8000)
	assert.Len(t, wav, 46)
}

func TestClipFor(t *testing.T) {
	raw := []byte{0xff, 0x7f}

	c := ClipFor("pcm16", raw, 24000)
	assert.Equal(t, "clip.wav", c.Filename)
	assert.Equal(t, "audio/wav", c.ContentType)
	assert.Equal(t, "RIFF", string(c.Data[:4]))

	c = ClipFor("g711_ulaw", raw, 8000)
	assert.Equal(t, "clip.ulaw", c.Filename)
	assert.Equal(t, raw, c.Data)
}

func TestDecodeWAV(t *testing.T) {
	pcm := SamplesToBytes([]int16{100, -100, 200, -200})

	got, rate, err := DecodeWAV(EncodeWAV(pcm, 24000))
	require.NoError(t, err)
	assert.Equal(t, 24000, rate)
	assert.Equal(t, pcm, got)
}

func TestDecodeWAVSkipsUnknownChunks(t *testing.T) {
	pcm := SamplesToBytes([]int16{7, 8})
	wav := EncodeWAV(pcm, 16000)
	// splice a LIST chunk with an odd size (padded) between fmt and data
	list := []byte{'L', 'I', 'S', 'T', 3, 0, 0, 0, 'a', 'b', 'c', 0}
	spliced := append(append(append([]byte{}, wav[:36]...), list...), wav[36:]...)

	got, rate, err := DecodeWAV(spliced)
	require.NoError(t, err)
	assert.Equal(t, 16000, rate)
	assert.Equal(t, pcm, got)
}

func TestDecodeWAVRejects(t *testing.T) {
	_, _, err := DecodeWAV([]byte("not a wav file at all"))
	assert.ErrorIs(t, err, ErrNotWAV)

	stereo := EncodeWAV(SamplesToBytes([]int16{1, 2}), 16000)
	binary.LittleEndian.PutUint16(stereo[22:24], 2)
	_, _, err = DecodeWAV(stereo)
	assert.ErrorIs(t, err, ErrNotWAV)
}
