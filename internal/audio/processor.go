package audio

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/Bridgeconn/obt-workflow/internal/report"
	"github.com/Bridgeconn/obt-workflow/internal/util"
)

// TargetSampleRate is the rate downstream playback expects
const TargetSampleRate = 48000

// wavFormatPCM is the WAVE_FORMAT_PCM audio format tag
const wavFormatPCM = 1

// PostProcessError is a decode or resample failure for one file
type PostProcessError struct {
	Path string
	Err  error
}

func (e *PostProcessError) Error() string {
	return fmt.Sprintf("%s: %s: %v", util.ErrPostProcess, e.Path, e.Err)
}

func (e *PostProcessError) Unwrap() []error { return []error{util.ErrPostProcess, e.Err} }

// Processor resamples audio files in place
type Processor struct {
	targetRate int
	logger     *report.EventLogger
}

// NewProcessor creates a processor targeting TargetSampleRate. A nil logger
// disables event output.
func NewProcessor(logger *report.EventLogger) *Processor {
	return &Processor{targetRate: TargetSampleRate, logger: logger}
}

// Normalize resamples path to the target rate as a single channel, replacing
// the file atomically. Files already at the target rate are not touched.
func (p *Processor) Normalize(ctx context.Context, path string) (changed bool, err error) {
	defer func() {
		p.logger.LogPostProcess(path, changed, err)
	}()

	if err := ctx.Err(); err != nil {
		return false, err
	}

	format, err := DetectFormat(path)
	if err != nil {
		return false, &PostProcessError{Path: path, Err: err}
	}

	if format == FormatWAV {
		changed, handled, err := p.normalizeWAV(path)
		if err != nil {
			return false, &PostProcessError{Path: path, Err: err}
		}
		if handled {
			return changed, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return false, err
	}
	changed, err = p.normalizeFFmpeg(path)
	if err != nil {
		return false, &PostProcessError{Path: path, Err: err}
	}
	return changed, nil
}

// normalizeWAV handles integer PCM in process. handled is false for WAV
// encodings the decoder cannot produce integer samples for.
func (p *Processor) normalizeWAV(path string) (changed, handled bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		return false, true, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return false, true, fmt.Errorf("invalid WAV file")
	}
	if dec.WavAudioFormat != wavFormatPCM {
		util.DebugLog("WAV format %d in %s, using ffmpeg", dec.WavAudioFormat, path)
		return false, false, nil
	}

	rate := int(dec.SampleRate)
	if rate == p.targetRate {
		util.DebugLog("%s already at %d Hz", filepath.Base(path), rate)
		return false, true, nil
	}
	if !p.resampleInProcess(rate) {
		util.DebugLog("Downsampling %s from %d Hz via ffmpeg", filepath.Base(path), rate)
		return false, false, nil
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return false, true, fmt.Errorf("failed to decode: %w", err)
	}
	if rate <= 0 || buf == nil || buf.Format == nil {
		return false, true, fmt.Errorf("missing sample rate")
	}

	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	mono := mixDown(buf.Data, channels)
	resampled := resampleLinear(mono, rate, p.targetRate)

	bitDepth := int(dec.BitDepth)
	if bitDepth == 0 {
		bitDepth = 16
	}

	side := sidePath(path)
	if err := writeWAV(side, resampled, p.targetRate, bitDepth); err != nil {
		os.Remove(side)
		return false, true, err
	}
	f.Close()
	if err := util.RetryableRename(side, path, nil); err != nil {
		os.Remove(side)
		return false, true, fmt.Errorf("failed to replace original: %w", err)
	}

	util.DebugLog("Resampled %s: %d Hz x%d -> %d Hz mono", filepath.Base(path), rate, channels, p.targetRate)
	return true, true, nil
}

func writeWAV(path string, samples []int, rate, bitDepth int) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	enc := wav.NewEncoder(out, rate, bitDepth, 1, wavFormatPCM)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: rate},
		Data:           samples,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		out.Close()
		return fmt.Errorf("failed to encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		out.Close()
		return fmt.Errorf("failed to finalize WAV: %w", err)
	}
	return out.Close()
}

// normalizeFFmpeg handles compressed formats through ffmpeg
func (p *Processor) normalizeFFmpeg(path string) (bool, error) {
	if !FFmpegAvailable() {
		return false, fmt.Errorf("%w: %s needs ffmpeg and ffprobe on PATH", util.ErrUnsupported, filepath.Base(path))
	}
	rate, _, err := probeSampleRate(path)
	if err != nil {
		return false, err
	}
	if rate == p.targetRate {
		return false, nil
	}

	side := sidePath(path)
	err = ffmpeg.Input(path).
		Output(side, ffmpeg.KwArgs{"ar": p.targetRate, "ac": 1}).
		OverWriteOutput().
		Silent(true).
		Run()
	if err != nil {
		os.Remove(side)
		return false, fmt.Errorf("ffmpeg resample failed: %w", err)
	}
	if err := util.RetryableRename(side, path, nil); err != nil {
		os.Remove(side)
		return false, fmt.Errorf("failed to replace original: %w", err)
	}

	util.DebugLog("Resampled %s via ffmpeg: %d Hz -> %d Hz mono", filepath.Base(path), rate, p.targetRate)
	return true, nil
}

// sidePath keeps the extension so encoders pick the right container
func sidePath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".resampled" + ext
}

// mixDown averages interleaved channels into one
func mixDown(data []int, channels int) []int {
	if channels == 1 {
		return data
	}
	frames := len(data) / channels
	mono := make([]int, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += data[i*channels+c]
		}
		mono[i] = sum / channels
	}
	return mono
}

// resampleInProcess reports whether linear interpolation is good enough for
// rate. Downsampling needs a low-pass filter, so it goes to ffmpeg whenever
// ffmpeg is installed.
func (p *Processor) resampleInProcess(rate int) bool {
	return rate < p.targetRate || !FFmpegAvailable()
}

// resampleLinear converts between rates by linear interpolation
func resampleLinear(in []int, from, to int) []int {
	if len(in) == 0 || from == to {
		return in
	}
	n := int(math.Round(float64(len(in)) * float64(to) / float64(from)))
	out := make([]int, n)
	step := float64(from) / float64(to)
	last := len(in) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = in[last]
			continue
		}
		frac := pos - float64(j)
		out[i] = int(math.Round(float64(in[j])*(1-frac) + float64(in[j+1])*frac))
	}
	return out
}
