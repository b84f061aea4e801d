package audio

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/Bridgeconn/obt-workflow/internal/util"
)

// writeTone writes a sine tone WAV and returns its path
func writeTone(t *testing.T, dir, name string, rate, channels int, seconds float64) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	frames := int(float64(rate) * seconds)
	data := make([]int, 0, frames*channels)
	for i := 0; i < frames; i++ {
		v := int(8000 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
		for c := 0; c < channels; c++ {
			data = append(data, v)
		}
	}

	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	if err := enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func readWAV(t *testing.T, path string) (rate, channels, frames int) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatal(err)
	}
	return int(dec.SampleRate), int(dec.NumChans), len(buf.Data) / int(dec.NumChans)
}

func TestNormalizeResamplesWAV(t *testing.T) {
	path := writeTone(t, t.TempDir(), "1_1.wav", 44100, 1, 0.5)

	changed, err := NewProcessor(nil).Normalize(context.Background(), path)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !changed {
		t.Fatal("expected file to be resampled")
	}

	rate, channels, frames := readWAV(t, path)
	if rate != TargetSampleRate || channels != 1 {
		t.Errorf("got %d Hz x%d, want %d Hz mono", rate, channels, TargetSampleRate)
	}
	if want := 24000; frames < want-1 || frames > want+1 {
		t.Errorf("frames = %d, want about %d", frames, want)
	}
	if _, err := os.Stat(sidePath(path)); !os.IsNotExist(err) {
		t.Error("side file left behind")
	}
}

func TestNormalizeDownsamplesWAV(t *testing.T) {
	path := writeTone(t, t.TempDir(), "1_4.wav", 96000, 2, 0.25)

	changed, err := NewProcessor(nil).Normalize(context.Background(), path)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !changed {
		t.Fatal("expected file to be resampled")
	}
	rate, channels, frames := readWAV(t, path)
	if rate != TargetSampleRate || channels != 1 {
		t.Errorf("got %d Hz x%d, want %d Hz mono", rate, channels, TargetSampleRate)
	}
	if want := 12000; frames < want-100 || frames > want+100 {
		t.Errorf("frames = %d, want about %d", frames, want)
	}
}

func TestResampleInProcess(t *testing.T) {
	p := NewProcessor(nil)
	if !p.resampleInProcess(44100) {
		t.Error("upsampling should stay in process")
	}
	if got, want := p.resampleInProcess(96000), !FFmpegAvailable(); got != want {
		t.Errorf("resampleInProcess(96000) = %v, want %v", got, want)
	}
}

func TestNormalizeMixesStereoDown(t *testing.T) {
	path := writeTone(t, t.TempDir(), "1_2.wav", 22050, 2, 0.2)

	if _, err := NewProcessor(nil).Normalize(context.Background(), path); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	rate, channels, _ := readWAV(t, path)
	if rate != TargetSampleRate || channels != 1 {
		t.Errorf("got %d Hz x%d", rate, channels)
	}
}

func TestNormalizeLeavesTargetRateUntouched(t *testing.T) {
	path := writeTone(t, t.TempDir(), "1_3.wav", TargetSampleRate, 1, 0.1)
	past := time.Now().Add(-time.Hour).Truncate(time.Second)
	if err := os.Chtimes(path, past, past); err != nil {
		t.Fatal(err)
	}

	changed, err := NewProcessor(nil).Normalize(context.Background(), path)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if changed {
		t.Error("file at target rate should not change")
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().Equal(past) {
		t.Errorf("mtime changed: %v != %v", info.ModTime(), past)
	}
}

func TestNormalizeCorruptWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")
	if err := os.WriteFile(path, []byte("not really audio"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := NewProcessor(nil).Normalize(context.Background(), path)
	var ppe *PostProcessError
	if !errors.As(err, &ppe) {
		t.Fatalf("expected PostProcessError, got %v", err)
	}
	if !errors.Is(err, util.ErrPostProcess) {
		t.Error("PostProcessError should match ErrPostProcess")
	}
}

func TestNormalizeCancelled(t *testing.T) {
	path := writeTone(t, t.TempDir(), "1_4.wav", 44100, 1, 0.1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewProcessor(nil).Normalize(ctx, path); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestNormalizeMP3ViaFFmpeg(t *testing.T) {
	if !FFmpegAvailable() {
		t.Skip("ffmpeg not available")
	}
	dir := t.TempDir()
	src := writeTone(t, dir, "tone.wav", 44100, 2, 0.5)
	mp3 := filepath.Join(dir, "1_5.mp3")
	if err := ffmpeg.Input(src).Output(mp3, ffmpeg.KwArgs{"ar": 44100}).OverWriteOutput().Silent(true).Run(); err != nil {
		t.Fatalf("failed to create mp3: %v", err)
	}

	changed, err := NewProcessor(nil).Normalize(context.Background(), mp3)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !changed {
		t.Fatal("expected mp3 to be resampled")
	}
	rate, channels, err := probeSampleRate(mp3)
	if err != nil {
		t.Fatal(err)
	}
	if rate != TargetSampleRate || channels != 1 {
		t.Errorf("got %d Hz x%d", rate, channels)
	}
}

func TestResampleLinear(t *testing.T) {
	in := []int{0, 100, 200, 300}
	out := resampleLinear(in, 2, 4)
	if len(out) != 8 {
		t.Fatalf("len = %d, want 8", len(out))
	}
	if out[0] != 0 || out[1] != 50 || out[2] != 100 {
		t.Errorf("unexpected interpolation %v", out)
	}
	if got := resampleLinear(in, 4, 4); len(got) != 4 {
		t.Error("same-rate resample should be identity")
	}
}

func TestMixDown(t *testing.T) {
	got := mixDown([]int{10, 20, -4, 4}, 2)
	if len(got) != 2 || got[0] != 15 || got[1] != 0 {
		t.Errorf("mixDown = %v", got)
	}
}

func TestDetectFormat(t *testing.T) {
	dir := t.TempDir()
	wavPath := writeTone(t, dir, "tone.bin", 8000, 1, 0.01)

	write := func(name string, data []byte) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, data, 0644); err != nil {
			t.Fatal(err)
		}
		return p
	}
	pad := make([]byte, 64)

	tests := []struct {
		name string
		path string
		want string
	}{
		{"riff header beats extension", wavPath, FormatWAV},
		{"flac magic", write("a.dat", append([]byte("fLaC"), pad...)), FormatFLAC},
		{"ogg magic", write("b.dat", append([]byte("OggS"), pad...)), FormatOGG},
		{"extension fallback", write("c.MP3", []byte("xx")), FormatMP3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectFormat(tt.path)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsSupported(t *testing.T) {
	if !IsSupported(".WAV") || !IsSupported("mp3") || IsSupported("txt") {
		t.Error("IsSupported mismatch")
	}
}
