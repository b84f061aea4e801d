// Package audio normalizes synthesized verse audio to the fixed playback
// sample rate.
package audio

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
)

// Supported container formats
const (
	FormatWAV  = "wav"
	FormatMP3  = "mp3"
	FormatFLAC = "flac"
	FormatOGG  = "ogg"
	FormatM4A  = "m4a"
)

// SupportedExtensions lists the extensions accepted for synthesized audio
var SupportedExtensions = []string{FormatWAV, FormatMP3, FormatFLAC, FormatOGG, FormatM4A}

// IsSupported reports whether ext (with or without the dot) is a known format
func IsSupported(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, s := range SupportedExtensions {
		if s == ext {
			return true
		}
	}
	return false
}

// DetectFormat identifies a file by content, falling back to its extension
func DetectFormat(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	header := make([]byte, 12)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.ErrUnexpectedEOF {
		return extFormat(path), nil
	}
	if n >= 12 && bytes.Equal(header[0:4], []byte("RIFF")) && bytes.Equal(header[8:12], []byte("WAVE")) {
		return FormatWAV, nil
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("failed to rewind %s: %w", path, err)
	}
	if _, fileType, err := tag.Identify(f); err == nil {
		switch fileType {
		case tag.MP3:
			return FormatMP3, nil
		case tag.FLAC:
			return FormatFLAC, nil
		case tag.OGG:
			return FormatOGG, nil
		case tag.M4A, tag.M4B, tag.ALAC:
			return FormatM4A, nil
		}
	}

	return extFormat(path), nil
}

func extFormat(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}
