package jobs

import (
	"context"
	"fmt"
	"path/filepath"

	"golang.org/x/text/unicode/norm"

	"github.com/Bridgeconn/obt-workflow/internal/aiclient"
	"github.com/Bridgeconn/obt-workflow/internal/store"
	"github.com/Bridgeconn/obt-workflow/internal/util"
)

const msgTranscribed = "Transcription successful"

// Transcribe queues every verse of the chapter that has not been edited by
// hand. The first verse is submitted synchronously; if that fails nothing is
// changed. Otherwise the verses are reset, the chapter loses its approval,
// and the rest runs in the background.
func (o *Orchestrator) Transcribe(ctx context.Context, chapterID int64) (*Batch, error) {
	ch, _, project, err := o.store.ChapterContext(chapterID)
	if err != nil {
		return nil, err
	}
	if project.ScriptLang == "" {
		return nil, fmt.Errorf("%w: project %d has no script language", util.ErrPrecondition, project.ID)
	}
	model, err := o.catalog.STTModel(project.ScriptLang)
	if err != nil {
		return nil, err
	}

	verses, err := o.store.ListVerses(ch.ID)
	if err != nil {
		return nil, err
	}
	var eligible []*store.Verse
	for _, v := range verses {
		if !v.Modified {
			eligible = append(eligible, v)
		}
	}
	skipped := len(verses) - len(eligible)
	if len(eligible) == 0 {
		util.InfoLog("Chapter %d: no verses to transcribe (%d edited by hand)", ch.ID, skipped)
		return emptyBatch(store.JobSTT, ch.ID, skipped, o.clock.Now()), nil
	}

	if err := o.service.EnsureServed(ctx, model.Name); err != nil {
		return nil, err
	}
	preflight, err := o.service.SubmitTranscription(ctx, model, eligible[0].Path)
	if err != nil {
		return nil, fmt.Errorf("pre-flight transcription of %s failed: %w", eligible[0].Name, err)
	}

	for _, v := range eligible {
		if err := o.store.ResetSTT(v); err != nil {
			return nil, err
		}
	}
	if ch.Approved {
		if err := o.store.SetChapterApproved(ch.ID, false); err != nil {
			return nil, err
		}
	}

	return o.dispatch(&run{
		batch:     o.newBatch(store.JobSTT, ch.ID, len(eligible), skipped),
		verses:    eligible,
		preflight: preflight,
		submit: func(ctx context.Context, v *store.Verse) (string, error) {
			return o.service.SubmitTranscription(ctx, model, v.Path)
		},
		complete:  o.completeSTT,
		failVerse: o.store.FailSTT,
	}), nil
}

func (o *Orchestrator) completeSTT(_ context.Context, vj *verseJob, res *aiclient.JobResult) (string, error) {
	text, ok := matchTranscript(vj.verse.Name, res.Transcriptions)
	if !ok {
		return "", fmt.Errorf("%w: job %s returned no transcription for %s",
			util.ErrExternalService, vj.job.ExternalID, vj.verse.Name)
	}
	if err := o.store.CompleteSTT(vj.verse, norm.NFC.String(text), msgTranscribed); err != nil {
		return "", err
	}
	return msgTranscribed, nil
}

// matchTranscript finds the transcription for a source file name. A lone
// transcription is accepted whatever its name.
func matchTranscript(name string, ts []aiclient.Transcription) (string, bool) {
	for _, t := range ts {
		if filepath.Base(t.AudioFile) == name {
			return t.Text, true
		}
	}
	if len(ts) == 1 {
		return ts[0].Text, true
	}
	return "", false
}
