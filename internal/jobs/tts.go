package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Bridgeconn/obt-workflow/internal/aiclient"
	"github.com/Bridgeconn/obt-workflow/internal/archive"
	"github.com/Bridgeconn/obt-workflow/internal/audio"
	"github.com/Bridgeconn/obt-workflow/internal/store"
	"github.com/Bridgeconn/obt-workflow/internal/util"
)

const (
	msgSynthesized = "Audio generated"

	// assetStem prefixes the synthesized file inside the service's archive
	assetStem = "audio_0"
)

// Synthesize queues every hand-edited verse of the chapter for speech
// synthesis, in the container format of the chapter's existing audio.
func (o *Orchestrator) Synthesize(ctx context.Context, chapterID int64) (*Batch, error) {
	ch, book, project, err := o.store.ChapterContext(chapterID)
	if err != nil {
		return nil, err
	}
	if project.AudioLang == "" {
		return nil, fmt.Errorf("%w: project %d has no audio language", util.ErrPrecondition, project.ID)
	}
	model, err := o.catalog.TTSModel(project.AudioLang)
	if err != nil {
		return nil, err
	}

	verses, err := o.store.ListVerses(ch.ID)
	if err != nil {
		return nil, err
	}
	var eligible []*store.Verse
	for _, v := range verses {
		if v.Modified {
			eligible = append(eligible, v)
		}
	}
	skipped := len(verses) - len(eligible)
	if len(eligible) == 0 {
		util.InfoLog("Chapter %d: no edited verses to synthesize", ch.ID)
		return emptyBatch(store.JobTTS, ch.ID, skipped, o.clock.Now()), nil
	}

	format := outputFormat(verses)
	if err := o.service.EnsureServed(ctx, model.Name); err != nil {
		return nil, err
	}
	preflight, err := o.service.SubmitSynthesis(ctx, model, []string{eligible[0].Text}, format)
	if err != nil {
		return nil, fmt.Errorf("pre-flight synthesis of %s failed: %w", eligible[0].Name, err)
	}

	for _, v := range eligible {
		if err := o.store.ResetTTS(v); err != nil {
			return nil, err
		}
	}
	if ch.Approved {
		if err := o.store.SetChapterApproved(ch.ID, false); err != nil {
			return nil, err
		}
	}

	destDir := o.layout.OutputChapterDir(project.ID, project.Name, book.Code, ch.Number)
	return o.dispatch(&run{
		batch:     o.newBatch(store.JobTTS, ch.ID, len(eligible), skipped),
		verses:    eligible,
		preflight: preflight,
		submit: func(ctx context.Context, v *store.Verse) (string, error) {
			return o.service.SubmitSynthesis(ctx, model, []string{v.Text}, format)
		},
		complete: func(ctx context.Context, vj *verseJob, res *aiclient.JobResult) (string, error) {
			return o.completeTTS(ctx, vj, destDir, format)
		},
		failVerse: o.store.FailTTS,
	}), nil
}

// outputFormat is the extension of the chapter's first verse file
func outputFormat(verses []*store.Verse) string {
	if len(verses) > 0 {
		if ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(verses[0].Path), ".")); ext != "" {
			return ext
		}
	}
	return audio.FormatWAV
}

// completeTTS downloads the job's archive, moves the synthesized file next to
// the chapter's other output audio under the verse's base name, and resamples
// it. Scratch files are always removed.
func (o *Orchestrator) completeTTS(ctx context.Context, vj *verseJob, destDir, format string) (string, error) {
	staging := o.layout.StagingDir()
	if err := os.MkdirAll(staging, 0755); err != nil {
		return "", fmt.Errorf("failed to create staging dir: %w", err)
	}
	tmp, err := os.MkdirTemp(staging, "tts-")
	if err != nil {
		return "", fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tmp); err != nil {
			util.WarnLog("Failed to clean up %s: %v", tmp, err)
		}
	}()

	zipPath := filepath.Join(tmp, "asset.zip")
	if _, err := o.service.DownloadAsset(ctx, vj.job.ExternalID, zipPath); err != nil {
		return "", err
	}
	extracted := filepath.Join(tmp, "asset")
	if _, err := archive.Extract(zipPath, extracted); err != nil {
		return "", fmt.Errorf("failed to extract asset for job %s: %w", vj.job.ExternalID, err)
	}
	src, err := locateAudio(extracted, format)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", destDir, err)
	}
	stem := strings.TrimSuffix(vj.verse.Name, filepath.Ext(vj.verse.Name))
	dest := filepath.Join(destDir, stem+strings.ToLower(filepath.Ext(src)))
	if err := util.RetryableRemove(dest, nil); err != nil {
		return "", fmt.Errorf("failed to replace %s: %w", dest, err)
	}
	if err := util.MovePath(src, dest); err != nil {
		return "", err
	}

	if _, err := o.audio.Normalize(ctx, dest); err != nil {
		os.Remove(dest)
		return "", err
	}
	if err := o.store.CompleteTTS(vj.verse, dest, msgSynthesized); err != nil {
		return "", err
	}
	return msgSynthesized, nil
}

// locateAudio picks the synthesized file: the only audio file in the tree,
// or the one whose name starts with assetStem
func locateAudio(dir, format string) (string, error) {
	var found []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
		if ext == format || audio.IsSupported(ext) {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to scan asset: %w", err)
	}

	if len(found) == 1 {
		return found[0], nil
	}
	for _, path := range found {
		if strings.HasPrefix(filepath.Base(path), assetStem) {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: no synthesized audio in asset (%d candidates)", util.ErrExternalService, len(found))
}
