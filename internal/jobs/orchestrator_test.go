package jobs

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Bridgeconn/obt-workflow/internal/aiclient"
	"github.com/Bridgeconn/obt-workflow/internal/language"
	"github.com/Bridgeconn/obt-workflow/internal/store"
	"github.com/Bridgeconn/obt-workflow/internal/util"
	"github.com/Bridgeconn/obt-workflow/internal/workspace"
)

// fakeService resolves every job after pendingRounds status checks
type fakeService struct {
	mu            sync.Mutex
	nextID        int
	jobs          map[string]string // external id -> file name or text
	polls         map[string]int
	submits       []string
	pendingRounds int
	preflightErr  error
	submitErr     map[string]error
	failed        map[string]bool
	unserved      bool
	onStatus      func()
}

func newFakeService() *fakeService {
	return &fakeService{
		jobs:      make(map[string]string),
		polls:     make(map[string]int),
		submitErr: make(map[string]error),
		failed:    make(map[string]bool),
	}
}

func (f *fakeService) EnsureServed(ctx context.Context, model string) error {
	if f.unserved {
		return fmt.Errorf("%w: model %q is not served", util.ErrExternalService, model)
	}
	return nil
}

func (f *fakeService) submit(key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, key)
	if len(f.submits) == 1 && f.preflightErr != nil {
		return "", f.preflightErr
	}
	if err := f.submitErr[key]; err != nil {
		return "", err
	}
	f.nextID++
	id := fmt.Sprintf("job-%d", f.nextID)
	f.jobs[id] = key
	return id, nil
}

func (f *fakeService) SubmitTranscription(ctx context.Context, model language.Model, path string) (string, error) {
	return f.submit(filepath.Base(path))
}

func (f *fakeService) SubmitSynthesis(ctx context.Context, model language.Model, texts []string, format string) (string, error) {
	return f.submit(texts[0])
}

func (f *fakeService) JobStatus(ctx context.Context, id string) (*aiclient.JobResult, error) {
	f.mu.Lock()
	hook := f.onStatus
	f.onStatus = nil
	f.polls[id]++
	key, polls := f.jobs[id], f.polls[id]
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	switch {
	case f.failed[key]:
		return &aiclient.JobResult{Status: aiclient.StatusFailed}, nil
	case polls <= f.pendingRounds:
		return &aiclient.JobResult{Status: "job pending"}, nil
	}
	return &aiclient.JobResult{
		Status:         aiclient.StatusFinished,
		Transcriptions: []aiclient.Transcription{{AudioFile: key, Text: "text for " + key}},
	}, nil
}

func (f *fakeService) DownloadAsset(ctx context.Context, id, dest string) (int64, error) {
	out, err := os.Create(dest)
	if err != nil {
		return 0, err
	}
	defer out.Close()
	zw := zip.NewWriter(out)
	for _, name := range []string{"output/audio_0.wav", "output/info.json"} {
		w, err := zw.Create(name)
		if err != nil {
			return 0, err
		}
		fmt.Fprintf(w, "%s for %s", name, id)
	}
	return 0, zw.Close()
}

func (f *fakeService) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits)
}

// manualClock returns channels that fire immediately unless hold is set
type manualClock struct {
	hold     bool
	sleeping chan struct{}
}

func newManualClock(hold bool) *manualClock {
	return &manualClock{hold: hold, sleeping: make(chan struct{}, 1)}
}

func (c *manualClock) Now() time.Time { return time.Unix(1700000000, 0) }

func (c *manualClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	if !c.hold {
		ch <- c.Now()
	}
	select {
	case c.sleeping <- struct{}{}:
	default:
	}
	return ch
}

type fakeProcessor struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (p *fakeProcessor) Normalize(ctx context.Context, path string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paths = append(p.paths, path)
	return true, p.err
}

type harness struct {
	store   *store.Store
	service *fakeService
	proc    *fakeProcessor
	clock   *manualClock
	layout  workspace.Layout
	orch    *Orchestrator
	project *store.Project
	chapter *store.Chapter
	verses  []*store.Verse
}

func newHarness(t *testing.T, holdClock bool, names ...string) *harness {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "obt.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	p := &store.Project{Name: "Demo", Owner: "tester", ScriptLang: "Hindi", AudioLang: "Ardhi"}
	if err := s.CreateProject(p); err != nil {
		t.Fatal(err)
	}
	b := &store.Book{ProjectID: p.ID, Code: "GEN"}
	if err := s.CreateBook(b); err != nil {
		t.Fatal(err)
	}

	dir := filepath.Join(t.TempDir(), "GEN", "1")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	ch := &store.Chapter{BookID: b.ID, Number: 1}
	var verses []*store.Verse
	for i, name := range names {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("RIFF"), 0644); err != nil {
			t.Fatal(err)
		}
		verses = append(verses, &store.Verse{Number: i + 1, Name: name, Path: path, Format: "wav"})
	}
	if err := s.InsertChapter(ch, verses); err != nil {
		t.Fatal(err)
	}

	h := &harness{
		store:   s,
		service: newFakeService(),
		proc:    &fakeProcessor{},
		clock:   newManualClock(holdClock),
		layout:  workspace.New(t.TempDir()),
		project: p,
		chapter: ch,
		verses:  verses,
	}
	h.orch = New(&Config{
		Store:   s,
		Service: h.service,
		Audio:   h.proc,
		Clock:   h.clock,
		Layout:  h.layout,
	})
	t.Cleanup(h.orch.Close)
	return h
}

func (h *harness) verse(t *testing.T, i int) *store.Verse {
	t.Helper()
	v, err := h.store.GetVerse(h.verses[i].ID)
	if err != nil || v == nil {
		t.Fatalf("GetVerse: %v", err)
	}
	return v
}

func (h *harness) edit(t *testing.T, i int, text string) {
	t.Helper()
	if err := h.store.EditVerseText(h.verse(t, i), text); err != nil {
		t.Fatalf("EditVerseText: %v", err)
	}
}

func (h *harness) approve(t *testing.T) {
	t.Helper()
	if err := h.store.SetChapterApproved(h.chapter.ID, true); err != nil {
		t.Fatal(err)
	}
}

func (h *harness) approved(t *testing.T) bool {
	t.Helper()
	ch, err := h.store.GetChapter(h.chapter.ID)
	if err != nil {
		t.Fatal(err)
	}
	return ch.Approved
}

func (h *harness) jobs(t *testing.T, i int) []*store.Job {
	t.Helper()
	jobs, err := h.store.ListJobsForVerse(h.verses[i].ID)
	if err != nil {
		t.Fatal(err)
	}
	return jobs
}

func waitBatch(t *testing.T, b *Batch) *BatchResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := b.Wait(ctx)
	if err != nil {
		t.Fatalf("batch did not finish: %v", err)
	}
	return res
}

func TestTranscribeCompletesBatch(t *testing.T) {
	h := newHarness(t, false, "1_1.wav", "1_2.wav", "1_3.wav")
	h.service.pendingRounds = 2

	batch, err := h.orch.Transcribe(context.Background(), h.chapter.ID)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if batch.Queued != 3 || h.orch.Batch(batch.ID) != batch {
		t.Fatalf("unexpected batch %+v", batch)
	}

	res := waitBatch(t, batch)
	if res.Completed != 3 || res.Failed != 0 || res.Pending != 0 {
		t.Errorf("result = %+v", res)
	}
	if resolved, total := batch.Progress(); resolved != 3 || total != 3 {
		t.Errorf("progress = %d/%d", resolved, total)
	}
	// the pre-flight submission is reused for the first verse
	if n := h.service.submitCount(); n != 3 {
		t.Errorf("submissions = %d, want 3", n)
	}

	for i := range h.verses {
		v := h.verse(t, i)
		if !v.STT || v.Text != "text for "+v.Name || v.STTMsg != msgTranscribed {
			t.Errorf("verse %d: stt=%v text=%q msg=%q", i, v.STT, v.Text, v.STTMsg)
		}
		jobs := h.jobs(t, i)
		if len(jobs) != 1 || jobs[0].Status != store.JobCompleted || jobs[0].ExternalID == "" {
			t.Errorf("verse %d jobs = %+v", i, jobs)
		}
	}
}

func TestTranscribeSkipsModifiedVerses(t *testing.T) {
	h := newHarness(t, false, "1_1.wav", "1_2.wav")
	h.edit(t, 0, "hand written")

	batch, err := h.orch.Transcribe(context.Background(), h.chapter.ID)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if batch.Queued != 1 || batch.Skipped != 1 {
		t.Fatalf("queued=%d skipped=%d", batch.Queued, batch.Skipped)
	}
	waitBatch(t, batch)

	if v := h.verse(t, 0); v.Text != "hand written" || v.STT {
		t.Errorf("edited verse touched: %+v", v)
	}
	if len(h.jobs(t, 0)) != 0 {
		t.Error("edited verse should have no jobs")
	}
	if v := h.verse(t, 1); !v.STT {
		t.Error("unedited verse should be transcribed")
	}
}

func TestTranscribeAllModifiedQueuesNothing(t *testing.T) {
	h := newHarness(t, false, "1_1.wav", "1_2.wav")
	h.edit(t, 0, "a")
	h.edit(t, 1, "b")
	h.approve(t)

	batch, err := h.orch.Transcribe(context.Background(), h.chapter.ID)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if batch.Queued != 0 {
		t.Errorf("queued = %d", batch.Queued)
	}
	select {
	case <-batch.Done():
	default:
		t.Error("empty batch should already be done")
	}
	if h.service.submitCount() != 0 {
		t.Error("service should not be called")
	}
	if len(h.jobs(t, 0))+len(h.jobs(t, 1)) != 0 {
		t.Error("no job rows expected")
	}
	if !h.approved(t) {
		t.Error("approval should survive an empty batch")
	}
}

func TestTranscribePreflightFailureChangesNothing(t *testing.T) {
	h := newHarness(t, false, "1_1.wav", "1_2.wav")
	if err := h.store.CompleteSTT(h.verse(t, 1), "old", "done"); err != nil {
		t.Fatal(err)
	}
	h.approve(t)
	h.service.preflightErr = errors.New("bad language")

	if _, err := h.orch.Transcribe(context.Background(), h.chapter.ID); err == nil {
		t.Fatal("expected pre-flight error")
	}
	if !h.approved(t) {
		t.Error("approval must not change")
	}
	if v := h.verse(t, 1); !v.STT || v.STTMsg != "done" {
		t.Errorf("verse state changed: %+v", v)
	}
	if len(h.jobs(t, 0))+len(h.jobs(t, 1)) != 0 {
		t.Error("no job rows expected")
	}
	if len(h.orch.Batches()) != 0 {
		t.Error("no batch should be registered")
	}
}

func TestTranscribeUnservedModel(t *testing.T) {
	h := newHarness(t, false, "1_1.wav")
	h.service.unserved = true
	if _, err := h.orch.Transcribe(context.Background(), h.chapter.ID); !errors.Is(err, util.ErrExternalService) {
		t.Fatalf("expected ErrExternalService, got %v", err)
	}
	if h.service.submitCount() != 0 {
		t.Error("nothing should be submitted")
	}
}

func TestTranscribeRequiresScriptLanguage(t *testing.T) {
	h := newHarness(t, false, "1_1.wav")
	if err := h.store.SetProjectLanguages(h.project.ID, "", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := h.orch.Transcribe(context.Background(), h.chapter.ID); !errors.Is(err, util.ErrPrecondition) {
		t.Fatalf("expected ErrPrecondition, got %v", err)
	}
}

func TestTranscribeRevokesApproval(t *testing.T) {
	h := newHarness(t, true, "1_1.wav")
	h.approve(t)

	if _, err := h.orch.Transcribe(context.Background(), h.chapter.ID); err != nil {
		t.Fatal(err)
	}
	if h.approved(t) {
		t.Error("approval should be revoked when a batch is queued")
	}
}

func TestTranscribePerVerseFailures(t *testing.T) {
	h := newHarness(t, false, "1_1.wav", "1_2.wav", "1_3.wav")
	h.service.submitErr["1_2.wav"] = errors.New("upload rejected")
	h.service.failed["1_3.wav"] = true

	batch, err := h.orch.Transcribe(context.Background(), h.chapter.ID)
	if err != nil {
		t.Fatal(err)
	}
	res := waitBatch(t, batch)
	if res.Completed != 1 || res.Failed != 2 {
		t.Fatalf("result = %+v", res)
	}

	v2 := h.verse(t, 1)
	if v2.STT || !strings.Contains(v2.STTMsg, "upload rejected") {
		t.Errorf("verse 2 = %+v", v2)
	}
	if jobs := h.jobs(t, 1); len(jobs) != 1 || jobs[0].Status != store.JobFailed || jobs[0].ExternalID != "" {
		t.Errorf("verse 2 jobs = %+v", jobs)
	}

	v3 := h.verse(t, 2)
	if v3.STT || !strings.Contains(v3.STTMsg, aiclient.StatusFailed) {
		t.Errorf("verse 3 = %+v", v3)
	}
	if !errors.Is(res.Errors[v3.ID], util.ErrExternalService) {
		t.Errorf("verse 3 error = %v", res.Errors[v3.ID])
	}
}

func TestTranscribeDetectsConcurrentEdit(t *testing.T) {
	h := newHarness(t, false, "1_1.wav")
	h.service.onStatus = func() { h.edit(t, 0, "edited meanwhile") }

	batch, err := h.orch.Transcribe(context.Background(), h.chapter.ID)
	if err != nil {
		t.Fatal(err)
	}
	res := waitBatch(t, batch)
	if res.Failed != 1 {
		t.Fatalf("result = %+v", res)
	}
	if err := res.Errors[h.verses[0].ID]; !errors.Is(err, util.ErrStale) {
		t.Errorf("expected stale error, got %v", err)
	}
	if v := h.verse(t, 0); v.Text != "edited meanwhile" {
		t.Errorf("human edit overwritten: %q", v.Text)
	}
}

func TestCloseLeavesJobsInProgress(t *testing.T) {
	h := newHarness(t, true, "1_1.wav", "1_2.wav")
	h.service.pendingRounds = 1000

	batch, err := h.orch.Transcribe(context.Background(), h.chapter.ID)
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-h.clock.sleeping:
	case <-time.After(10 * time.Second):
		t.Fatal("batch never reached the poll wait")
	}
	h.orch.Close()

	res := waitBatch(t, batch)
	if res.Pending != 2 {
		t.Errorf("pending = %d, want 2", res.Pending)
	}
	for i := range h.verses {
		jobs := h.jobs(t, i)
		if len(jobs) != 1 || jobs[0].Status != store.JobInProgress {
			t.Errorf("verse %d jobs = %+v", i, jobs)
		}
	}
}

func TestSynthesizeWritesOutputAudio(t *testing.T) {
	h := newHarness(t, false, "1_1.wav", "1_2.wav")
	h.edit(t, 1, "new words")

	batch, err := h.orch.Synthesize(context.Background(), h.chapter.ID)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if batch.Queued != 1 {
		t.Fatalf("queued = %d", batch.Queued)
	}
	res := waitBatch(t, batch)
	if res.Completed != 1 {
		t.Fatalf("result = %+v", res)
	}

	want := filepath.Join(h.layout.OutputChapterDir(h.project.ID, h.project.Name, "GEN", 1), "1_2.wav")
	v := h.verse(t, 1)
	if !v.TTS || v.TTSPath != want || v.TTSMsg != msgSynthesized {
		t.Errorf("verse = %+v", v)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("output audio missing: %v", err)
	}
	if len(h.proc.paths) != 1 || h.proc.paths[0] != want {
		t.Errorf("post-processed %v", h.proc.paths)
	}
	if v := h.verse(t, 0); v.TTS {
		t.Error("unedited verse should not be synthesized")
	}

	entries, _ := os.ReadDir(h.layout.StagingDir())
	if len(entries) != 0 {
		t.Errorf("scratch dirs left behind: %d", len(entries))
	}
}

func TestSynthesizePostProcessFailure(t *testing.T) {
	h := newHarness(t, false, "1_1.wav")
	h.edit(t, 0, "words")
	h.proc.err = fmt.Errorf("%w: cannot decode", util.ErrPostProcess)

	batch, err := h.orch.Synthesize(context.Background(), h.chapter.ID)
	if err != nil {
		t.Fatal(err)
	}
	res := waitBatch(t, batch)
	if res.Failed != 1 {
		t.Fatalf("result = %+v", res)
	}
	v := h.verse(t, 0)
	if v.TTS || !strings.Contains(v.TTSMsg, "cannot decode") {
		t.Errorf("verse = %+v", v)
	}
	out := filepath.Join(h.layout.OutputChapterDir(h.project.ID, h.project.Name, "GEN", 1), "1_1.wav")
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("unprocessed audio should be removed")
	}
}

func TestSynthesizeNothingEdited(t *testing.T) {
	h := newHarness(t, false, "1_1.wav")
	batch, err := h.orch.Synthesize(context.Background(), h.chapter.ID)
	if err != nil {
		t.Fatal(err)
	}
	if batch.Queued != 0 || h.service.submitCount() != 0 {
		t.Errorf("queued=%d submits=%d", batch.Queued, h.service.submitCount())
	}
}

func TestMatchTranscript(t *testing.T) {
	ts := []aiclient.Transcription{
		{AudioFile: "/tmp/up/1_1.wav", Text: "one"},
		{AudioFile: "1_2.wav", Text: "two"},
	}
	if got, ok := matchTranscript("1_2.wav", ts); !ok || got != "two" {
		t.Errorf("got %q %v", got, ok)
	}
	if _, ok := matchTranscript("1_3.wav", ts); ok {
		t.Error("unmatched name with several transcriptions should fail")
	}
	if got, ok := matchTranscript("1_3.wav", ts[:1]); !ok || got != "one" {
		t.Error("a lone transcription should be accepted")
	}
}

func TestLocateAudio(t *testing.T) {
	tests := []struct {
		name  string
		files []string
		want  string
	}{
		{"single file", []string{"x/speech.mp3", "x/readme.txt"}, "x/speech.mp3"},
		{"stem wins", []string{"audio_1.wav", "audio_0.wav"}, "audio_0.wav"},
		{"none", []string{"notes.txt"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for _, f := range tt.files {
				p := filepath.Join(dir, f)
				os.MkdirAll(filepath.Dir(p), 0755)
				os.WriteFile(p, []byte("x"), 0644)
			}
			got, err := locateAudio(dir, "wav")
			if tt.want == "" {
				if err == nil {
					t.Errorf("expected error, got %s", got)
				}
				return
			}
			if err != nil || got != filepath.Join(dir, tt.want) {
				t.Errorf("got %q, %v", got, err)
			}
		})
	}
}

func TestOutputFormat(t *testing.T) {
	if got := outputFormat([]*store.Verse{{Path: "/a/1_1.MP3"}}); got != "mp3" {
		t.Errorf("got %q", got)
	}
	if got := outputFormat(nil); got != "wav" {
		t.Errorf("got %q", got)
	}
}
