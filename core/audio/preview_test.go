package audio

import (
	"context"
	"errors"
	"testing"
)

func TestMakePreviewRejectsShortSource(t *testing.T) {
	gen := NewPreviewGenerator(NewFFmpegProcessor("ffmpeg", "ffprobe"), 30, 10, "128k", t.TempDir())

	_, err := gen.MakePreview(context.Background(), "in.mp3", 5.0, nil)
	if !errors.Is(err, ErrTooShort) {
		t.Fatalf("got %v, want ErrTooShort", err)
	}
}

func TestMakePreviewRejectsOffsetPastEnd(t *testing.T) {
	gen := NewPreviewGenerator(NewFFmpegProcessor("ffmpeg", "ffprobe"), 30, 10, "128k", t.TempDir())

	offset := 200.0
	_, err := gen.MakePreview(context.Background(), "in.mp3", 120.0, &offset)
	if !errors.Is(err, ErrTooShort) {
		t.Fatalf("got %v, want ErrTooShort", err)
	}
}

func TestAnalyzeRejectsUnsupportedFormat(t *testing.T) {
	analyzer := NewAnalyzer(NewFFmpegProcessor("ffmpeg", "ffprobe"), 1000)

	_, err := analyzer.Analyze(context.Background(), "artifact.bin", "notes.txt")
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("got %v, want ErrUnsupportedFormat", err)
	}
}

func TestFormatFromFilename(t *testing.T) {
	cases := map[string]string{
		"Track 01.MP3":   "mp3",
		"album/take.flac": "flac",
		"noext":           "",
	}
	for in, want := range cases {
		if got := FormatFromFilename(in); got != want {
			t.Errorf("FormatFromFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
