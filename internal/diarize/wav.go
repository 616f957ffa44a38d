// SPDX-License-Identifier: MIT

package diarize

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

// ReadWAV loads a PCM WAV file into float64 samples in [-1,1]. Multi-channel
// audio collapses to the first channel. Only 16-bit PCM is supported, which
// is what the audio-prep stage produces.
func ReadWAV(path string) ([]float64, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("read wav: %w", err)
	}
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, errors.New("not a RIFF/WAVE file")
	}

	var (
		sampleRate    int
		numChannels   int
		bitsPerSample int
		pcm           []byte
	)

	// walk chunks
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(data) {
			size = len(data) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, errors.New("short fmt chunk")
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			numChannels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			if format != 1 {
				return nil, 0, fmt.Errorf("unsupported wav format %d", format)
			}
		case "data":
			pcm = data[body : body+size]
		}
		pos = body + size
		if size%2 == 1 {
			pos++ // chunks are word aligned
		}
	}

	if sampleRate == 0 || pcm == nil {
		return nil, 0, errors.New("missing fmt or data chunk")
	}
	if bitsPerSample != 16 {
		return nil, 0, fmt.Errorf("unsupported bit depth %d", bitsPerSample)
	}
	if numChannels < 1 {
		numChannels = 1
	}

	frameSize := 2 * numChannels
	n := len(pcm) / frameSize
	samples := make([]float64, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(pcm[i*frameSize : i*frameSize+2]))
		samples[i] = float64(v) / 32768.0
	}
	return samples, sampleRate, nil
}
