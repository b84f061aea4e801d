package audio

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/Bridgeconn/obt-workflow/internal/util"
)

// probeInfo is the subset of ffprobe's JSON output used here
type probeInfo struct {
	Streams []probeStream `json:"streams"`
}

type probeStream struct {
	CodecType  string      `json:"codec_type"`
	SampleRate intOrString `json:"sample_rate"`
	Channels   int         `json:"channels"`
}

// intOrString decodes numbers ffprobe may print either way
type intOrString int

func (i *intOrString) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*i = intOrString(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := strconv.Atoi(s)
	if err != nil {
		*i = 0
		return nil
	}
	*i = intOrString(parsed)
	return nil
}

// FFmpegAvailable reports whether both ffmpeg and ffprobe are on PATH
func FFmpegAvailable() bool {
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(bin); err != nil {
			return false
		}
	}
	return true
}

// probeSampleRate returns the first audio stream's sample rate and channels
func probeSampleRate(path string) (rate, channels int, err error) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return 0, 0, fmt.Errorf("ffprobe: %w", util.ErrNotFound)
	}

	out, err := ffmpeg.Probe(path)
	if err != nil {
		return 0, 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	var info probeInfo
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		return 0, 0, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	for _, s := range info.Streams {
		if s.CodecType == "audio" && s.SampleRate > 0 {
			return int(s.SampleRate), s.Channels, nil
		}
	}
	return 0, 0, fmt.Errorf("no audio stream in %s", path)
}
