package gateway_test

import (
	"context"
	"testing"
	"time"

	"github.com/voxfacile/voxfacile/internal/gateway"
	"github.com/voxfacile/voxfacile/pkg/audio"
	"github.com/voxfacile/voxfacile/pkg/capture"
)

func TestBrowserSource_StampsFrames(t *testing.T) {
	t.Parallel()
	src := gateway.NewBrowserSource(audio.Format{})

	var got []audio.Frame
	src.OnFrame(func(f audio.Frame) { got = append(got, f) })
	if err := src.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	// 320 samples of 16 kHz mono PCM16 = 20 ms per push.
	payload := make([]byte, 640)
	src.Push(payload)
	src.Push(payload)
	src.Push(payload)

	if len(got) != 3 {
		t.Fatalf("got %d frames, want 3", len(got))
	}
	for i, f := range got {
		if f.Seq != uint64(i) {
			t.Errorf("frame %d: seq %d", i, f.Seq)
		}
		if want := time.Duration(i) * 20 * time.Millisecond; f.Timestamp != want {
			t.Errorf("frame %d: timestamp %v, want %v", i, f.Timestamp, want)
		}
		if f.SampleRate != 16000 || f.Channels != 1 {
			t.Errorf("frame %d: format %d/%d", i, f.SampleRate, f.Channels)
		}
	}
}

func TestBrowserSource_DropsWhenNotOpen(t *testing.T) {
	t.Parallel()
	src := gateway.NewBrowserSource(audio.Format{})

	delivered := 0
	src.OnFrame(func(audio.Frame) { delivered++ })

	src.Push(make([]byte, 640)) // before Open

	if err := src.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	src.Push(make([]byte, 640))

	if err := src.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	src.Push(make([]byte, 640)) // after Close

	if delivered != 1 {
		t.Errorf("delivered %d frames, want 1", delivered)
	}
}

func TestBrowserSource_OpenAfterClose(t *testing.T) {
	t.Parallel()
	src := gateway.NewBrowserSource(audio.Format{})
	if err := src.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := src.Open(context.Background()); err != capture.ErrClosed {
		t.Errorf("Open after Close: got %v, want capture.ErrClosed", err)
	}
}
