// Package record writes captured session audio to WAV files for later
// review. Recording is optional and purely observational: failures are
// reported but never interrupt a live session.
package record

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/voxfacile/voxfacile/pkg/audio"
)

const wavFormatPCM = 1

// Recorder appends PCM frames to a single WAV file. Safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	f       *os.File
	enc     *wav.Encoder
	format  audio.Format
	written int
	closed  bool
}

// NewRecorder creates a WAV file at path for audio in the given format.
func NewRecorder(path string, format audio.Format) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("record: create %q: %w", path, err)
	}
	enc := wav.NewEncoder(f, format.SampleRate, format.BitDepth, format.Channels, wavFormatPCM)
	return &Recorder{f: f, enc: enc, format: format}, nil
}

// Write appends one frame. Frames are expected in the recorder's format;
// sample data is little-endian PCM16.
func (r *Recorder) Write(frame audio.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("record: recorder closed")
	}

	samples := make([]int, len(frame.Data)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(frame.Data[i*2:])))
	}

	buf := &goaudio.IntBuffer{
		Data: samples,
		Format: &goaudio.Format{
			NumChannels: r.format.Channels,
			SampleRate:  r.format.SampleRate,
		},
		SourceBitDepth: r.format.BitDepth,
	}
	if err := r.enc.Write(buf); err != nil {
		return fmt.Errorf("record: write frame: %w", err)
	}
	r.written += len(samples)
	return nil
}

// Samples returns the number of samples written so far.
func (r *Recorder) Samples() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

// Close finalises the WAV header and closes the file. Idempotent.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	encErr := r.enc.Close()
	fileErr := r.f.Close()
	if encErr != nil {
		return fmt.Errorf("record: finalise wav: %w", encErr)
	}
	if fileErr != nil {
		return fmt.Errorf("record: close file: %w", fileErr)
	}
	return nil
}
