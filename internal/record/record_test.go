package record

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"

	"github.com/voxfacile/voxfacile/pkg/audio"
)

func pcm16(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestRecorder_WritesPlayableWAV(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "session.wav")
	rec, err := NewRecorder(path, audio.DefaultFormat)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	frames := []audio.Frame{
		{Data: pcm16(0, 1000, -1000, 2000), SampleRate: 16000, Channels: 1, Seq: 0},
		{Data: pcm16(3000, -3000), SampleRate: 16000, Channels: 1, Seq: 1},
	}
	for _, f := range frames {
		if err := rec.Write(f); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if got := rec.Samples(); got != 6 {
		t.Errorf("Samples = %d; want 6", got)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open recording: %v", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode recording: %v", err)
	}
	if dec.SampleRate != 16000 {
		t.Errorf("sample rate = %d; want 16000", dec.SampleRate)
	}
	if dec.NumChans != 1 {
		t.Errorf("channels = %d; want 1", dec.NumChans)
	}
	want := []int{0, 1000, -1000, 2000, 3000, -3000}
	if len(buf.Data) != len(want) {
		t.Fatalf("decoded %d samples; want %d", len(buf.Data), len(want))
	}
	for i, s := range want {
		if buf.Data[i] != s {
			t.Errorf("sample %d = %d; want %d", i, buf.Data[i], s)
		}
	}
}

func TestRecorder_CloseIdempotentAndRejectsWrites(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "closed.wav")
	rec, err := NewRecorder(path, audio.DefaultFormat)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := rec.Write(audio.Frame{Data: pcm16(1)}); err == nil {
		t.Error("Write after Close succeeded; want error")
	}
}
