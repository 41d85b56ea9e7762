package sausyn

import (
	"encoding/binary"
	"io"

	intgen "github.com/cbegin/sausyn-go/internal/generator"
	intprog "github.com/cbegin/sausyn-go/internal/program"
)

// RenderSamples renders a whole program to interleaved stereo int16
// frames at sampleRate.
func RenderSamples(prog *intprog.Program, sampleRate int, diag io.Writer) ([]int16, error) {
	g, err := intgen.New(prog, uint32(sampleRate), diag)
	if err != nil {
		return nil, err
	}
	frames := int(uint64(prog.DurationMS) * uint64(sampleRate) / 1000)
	out := make([]int16, 0, frames*2)
	buf := make([]int16, 4096*2)
	for {
		n, more := g.Run(buf, 4096)
		out = append(out, buf[:n*2]...)
		if !more {
			return out, nil
		}
	}
}

// EncodeWAV16LE wraps interleaved int16 samples in a WAV container
// (PCM format 1, little-endian).
func EncodeWAV16LE(samples []int16, sampleRate int, channels int) []byte {
	dataSize := len(samples) * 2
	byteRate := sampleRate * channels * 2
	blockAlign := channels * 2
	chunkSize := 36 + dataSize
	out := make([]byte, 44+dataSize)
	copy(out[0:], []byte("RIFF"))
	binary.LittleEndian.PutUint32(out[4:], uint32(chunkSize))
	copy(out[8:], []byte("WAVE"))
	copy(out[12:], []byte("fmt "))
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 1)
	binary.LittleEndian.PutUint16(out[22:], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:], 16)
	copy(out[36:], []byte("data"))
	binary.LittleEndian.PutUint32(out[40:], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[44+i*2:], uint16(s))
	}
	return out
}
