package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// EncodeWAV wraps 16-bit mono PCM samples in a minimal WAV container with a
// standard 44-byte header. Used for on-disk prompt caching and for HTTP
// transcription uploads.
func EncodeWAV(pcm []int16, sampleRate int) []byte {
	data := SamplesToBytes(pcm)

	var buf bytes.Buffer
	buf.Grow(44 + len(data))

	// RIFF header
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(data)))
	buf.WriteString("WAVE")

	// fmt chunk
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2)) // byte rate
	binary.Write(&buf, binary.LittleEndian, uint16(2))            // block align
	binary.Write(&buf, binary.LittleEndian, uint16(16))           // bits per sample

	// data chunk
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)

	return buf.Bytes()
}

// DecodeWAV parses a WAV container holding 16-bit mono PCM and returns the
// samples and their sample rate. Compressed, multi-channel, and non-16-bit
// files are rejected. Chunks other than "fmt " and "data" are skipped.
func DecodeWAV(data []byte) ([]int16, int, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("audio: decode wav: not a RIFF/WAVE file")
	}

	var (
		sampleRate int
		haveFmt    bool
		pcmBytes   []byte
	)

	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		off += 8
		if size < 0 || off+size > len(data) {
			return nil, 0, fmt.Errorf("audio: decode wav: truncated %q chunk", id)
		}
		body := data[off : off+size]

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, fmt.Errorf("audio: decode wav: fmt chunk too short (%d bytes)", size)
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			channels := binary.LittleEndian.Uint16(body[2:4])
			rate := binary.LittleEndian.Uint32(body[4:8])
			bits := binary.LittleEndian.Uint16(body[14:16])
			if format != 1 {
				return nil, 0, fmt.Errorf("audio: decode wav: unsupported format %d (want PCM)", format)
			}
			if channels != 1 {
				return nil, 0, fmt.Errorf("audio: decode wav: unsupported channel count %d (want mono)", channels)
			}
			if bits != 16 {
				return nil, 0, fmt.Errorf("audio: decode wav: unsupported bit depth %d (want 16)", bits)
			}
			sampleRate = int(rate)
			haveFmt = true
		case "data":
			pcmBytes = body
		}

		off += size
		if size%2 != 0 {
			off++ // chunks are word-aligned
		}
	}

	if !haveFmt {
		return nil, 0, fmt.Errorf("audio: decode wav: missing fmt chunk")
	}
	if pcmBytes == nil {
		return nil, 0, fmt.Errorf("audio: decode wav: missing data chunk")
	}

	return BytesToSamples(pcmBytes), sampleRate, nil
}
