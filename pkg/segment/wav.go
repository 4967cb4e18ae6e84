package segment

import (
	"encoding/binary"
)

const wavHeaderSize = 44

// EncodeWAV serializes PCM samples into a complete WAV file image. Segments
// carry their full payload by the time they reach the writer, so the header
// sizes are known up front and no seek-back pass is needed.
func EncodeWAV(pcm []int16, sampleRate, channels int) []byte {
	if sampleRate <= 0 {
		sampleRate = 8000
	}
	if channels <= 0 {
		channels = 1
	}

	dataSize := uint32(len(pcm) * 2)
	buf := make([]byte, wavHeaderSize+len(pcm)*2)

	// ChunkID "RIFF"
	copy(buf[0:], []byte("RIFF"))
	// ChunkSize = 36 + data bytes
	binary.LittleEndian.PutUint32(buf[4:], 36+dataSize)
	// Format "WAVE"
	copy(buf[8:], []byte("WAVE"))
	// Subchunk1ID "fmt "
	copy(buf[12:], []byte("fmt "))
	// Subchunk1Size (16 for PCM)
	binary.LittleEndian.PutUint32(buf[16:], 16)
	// AudioFormat (1 = PCM)
	binary.LittleEndian.PutUint16(buf[20:], 1)
	// NumChannels
	binary.LittleEndian.PutUint16(buf[22:], uint16(channels))
	// SampleRate
	binary.LittleEndian.PutUint32(buf[24:], uint32(sampleRate))
	// ByteRate = SampleRate * NumChannels * BitsPerSample/8 (16-bit samples)
	binary.LittleEndian.PutUint32(buf[28:], uint32(sampleRate*channels*2))
	// BlockAlign = NumChannels * BitsPerSample/8
	binary.LittleEndian.PutUint16(buf[32:], uint16(channels*2))
	// BitsPerSample = 16
	binary.LittleEndian.PutUint16(buf[34:], 16)
	// Subchunk2ID "data"
	copy(buf[36:], []byte("data"))
	// Subchunk2Size
	binary.LittleEndian.PutUint32(buf[40:], dataSize)

	for i, s := range pcm {
		binary.LittleEndian.PutUint16(buf[wavHeaderSize+i*2:], uint16(s))
	}
	return buf
}
