package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// wavHeader is the canonical 44-byte RIFF/WAVE header for PCM data.
type wavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

const wavHeaderSize = 44

// EncodeWAV wraps mono PCM16 bytes in a WAV container.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	const (
		channels      = 1
		bitsPerSample = 16
	)
	dataSize := uint32(len(pcm) &^ 1)
	h := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   channels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * channels * bitsPerSample / 8,
		BlockAlign:    channels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+int(dataSize)))
	// Writes into a bytes.Buffer cannot fail.
	_ = binary.Write(buf, binary.LittleEndian, h)
	buf.Write(pcm[:dataSize])
	return buf.Bytes()
}

var ErrNotWAV = errors.New("audio: not a PCM16 mono wav")

// DecodeWAV returns the PCM16 payload and sample rate of a mono WAV file.
// Chunks other than fmt and data are skipped.
func DecodeWAV(b []byte) ([]byte, int, error) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return nil, 0, ErrNotWAV
	}
	rate := 0
	for off := 12; off+8 <= len(b); {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(b) {
			size = len(b) - body // truncated stream; take what is there
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, fmt.Errorf("%w: short fmt chunk", ErrNotWAV)
			}
			format := binary.LittleEndian.Uint16(b[body:])
			channels := binary.LittleEndian.Uint16(b[body+2:])
			bits := binary.LittleEndian.Uint16(b[body+14:])
			if format != 1 || channels != 1 || bits != 16 {
				return nil, 0, fmt.Errorf("%w: format=%d channels=%d bits=%d", ErrNotWAV, format, channels, bits)
			}
			rate = int(binary.LittleEndian.Uint32(b[body+4:]))
		case "data":
			if rate == 0 {
				return nil, 0, fmt.Errorf("%w: data before fmt", ErrNotWAV)
			}
			return b[body : body+size&^1], rate, nil
		}
		off = body + size + size&1
	}
	return nil, 0, fmt.Errorf("%w: no data chunk", ErrNotWAV)
}

// Clip is audio packaged for a transcription backend.
type Clip struct {
	Data        []byte
	Filename    string
	ContentType string
}

// ClipFor packages one turn of raw client audio according to the input
// format it arrived in. PCM16 becomes WAV; G.711 variants are passed through
// with their own extension.
func ClipFor(format string, raw []byte, sampleRate int) Clip {
	switch strings.ToLower(format) {
	case "g711_ulaw":
		return Clip{Data: raw, Filename: "clip.ulaw", ContentType: "audio/basic"}
	case "g711_alaw":
		return Clip{Data: raw, Filename: "clip.alaw", ContentType: "audio/x-alaw-basic"}
	default:
		return Clip{Data: EncodeWAV(raw, sampleRate), Filename: "clip.wav", ContentType: "audio/wav"}
	}
}
