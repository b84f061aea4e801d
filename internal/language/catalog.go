// Package language maps project languages to the AI service's model names and
// language codes.
package language

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/Bridgeconn/obt-workflow/internal/util"
)

//go:embed languages.json
var defaultCatalog []byte

// Model is a served model together with the language code it expects
type Model struct {
	Name string
	Code string
}

// SourceLanguage is a spoken (audio) language and the script language whose
// models serve it
type SourceLanguage struct {
	ID             int    `json:"id"`
	Name           string `json:"name"`
	ScriptLanguage string `json:"scriptLanguage"`
}

type modelTable struct {
	STT map[string]string `json:"stt"`
	TTS map[string]string `json:"tts"`
}

type catalogFile struct {
	Languages       map[string]modelTable `json:"languages"`
	SourceLanguages []SourceLanguage      `json:"sourceLanguages"`
}

// Catalog is immutable after construction
type Catalog struct {
	languages map[string]modelTable
	sources   map[string]SourceLanguage
	ordered   []SourceLanguage
}

// Default returns the catalog compiled into the binary
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded language catalog is invalid: %v", err))
	}
	return c
}

// Load reads a catalog file; an empty path yields the default catalog
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read language catalog %s: %v", util.ErrInvalidConfig, path, err)
	}
	return Parse(data)
}

// Parse decodes catalog JSON
func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: malformed language catalog: %v", util.ErrInvalidConfig, err)
	}
	if len(f.Languages) == 0 {
		return nil, fmt.Errorf("%w: language catalog has no languages", util.ErrInvalidConfig)
	}

	c := &Catalog{
		languages: f.Languages,
		sources:   make(map[string]SourceLanguage, len(f.SourceLanguages)),
		ordered:   f.SourceLanguages,
	}
	for _, s := range f.SourceLanguages {
		if _, ok := f.Languages[s.ScriptLanguage]; !ok {
			return nil, fmt.Errorf("%w: source language %q maps to unknown script language %q",
				util.ErrInvalidConfig, s.Name, s.ScriptLanguage)
		}
		c.sources[s.Name] = s
	}
	return c, nil
}

// STTModel picks the transcription model for a script language
func (c *Catalog) STTModel(scriptLanguage string) (Model, error) {
	table, ok := c.languages[scriptLanguage]
	if !ok {
		return Model{}, fmt.Errorf("%w: no models for script language %q", util.ErrUnsupported, scriptLanguage)
	}
	return firstModel(table.STT, "transcription", scriptLanguage)
}

// TTSModel picks the synthesis model for an audio language. The audio
// language is resolved through the source-language list; a script language
// name is accepted directly.
func (c *Catalog) TTSModel(audioLanguage string) (Model, error) {
	script := audioLanguage
	if src, ok := c.sources[audioLanguage]; ok {
		script = src.ScriptLanguage
	}
	table, ok := c.languages[script]
	if !ok {
		return Model{}, fmt.Errorf("%w: no source language found for audio language %q", util.ErrUnsupported, audioLanguage)
	}
	return firstModel(table.TTS, "synthesis", audioLanguage)
}

// firstModel is deterministic: the lexicographically first model name wins
func firstModel(models map[string]string, kind, lang string) (Model, error) {
	if len(models) == 0 {
		return Model{}, fmt.Errorf("%w: no %s model for %q", util.ErrUnsupported, kind, lang)
	}
	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}
	sort.Strings(names)

	code := models[names[0]]
	if code == "" {
		return Model{}, fmt.Errorf("%w: %s model %s has no language code for %q", util.ErrInvalidConfig, kind, names[0], lang)
	}
	return Model{Name: names[0], Code: code}, nil
}

// ScriptLanguages returns the languages that have model tables, sorted
func (c *Catalog) ScriptLanguages() []string {
	names := make([]string, 0, len(c.languages))
	for name := range c.languages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SourceLanguages returns the source-language list in file order
func (c *Catalog) SourceLanguages() []SourceLanguage {
	return append([]SourceLanguage(nil), c.ordered...)
}

// IsKnown reports whether name is a script or source language
func (c *Catalog) IsKnown(name string) bool {
	if _, ok := c.languages[name]; ok {
		return true
	}
	_, ok := c.sources[name]
	return ok
}
