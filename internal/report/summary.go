package report

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Bridgeconn/obt-workflow/internal/store"
	"github.com/Bridgeconn/obt-workflow/internal/util"
)

// ProjectReport represents the state of one project
type ProjectReport struct {
	GeneratedAt time.Time

	ProjectID   int64
	ProjectName string
	ScriptLang  string
	AudioLang   string
	Archived    bool

	// Content statistics
	Books            int
	Chapters         int
	ApprovedChapters int
	Verses           int
	MissingVerses    int

	// Pipeline statistics
	Transcribed int
	Modified    int
	Synthesized int
	STTFailed   int
	TTSFailed   int
	LatestJobs  map[store.JobStatus]int

	// Details
	ChapterRows []ChapterRow
	TopErrors   []ErrorSummary
	EventCounts map[EventType]int

	// Metadata
	DatabasePath string
	EventLogPath string
}

// ChapterRow is one line of the chapter table
type ChapterRow struct {
	Book        string
	Number      int
	Verses      int
	Missing     int
	Transcribed int
	Synthesized int
	Approved    bool
}

// ErrorSummary represents an error with its count
type ErrorSummary struct {
	Error string
	Count int
}

// GenerateProjectReport creates a project report from the database and an
// optional event log
func GenerateProjectReport(db *store.Store, projectID int64, eventLogPath string) (*ProjectReport, error) {
	project, err := db.GetProject(projectID)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, fmt.Errorf("project %d: %w", projectID, util.ErrNotFound)
	}

	report := &ProjectReport{
		GeneratedAt:  time.Now(),
		ProjectID:    project.ID,
		ProjectName:  project.Name,
		ScriptLang:   project.ScriptLang,
		AudioLang:    project.AudioLang,
		Archived:     project.Archived,
		LatestJobs:   make(map[store.JobStatus]int),
		EventLogPath: eventLogPath,
	}

	errorCounts := make(map[string]int)
	books, err := db.ListBooks(project.ID)
	if err != nil {
		return nil, err
	}
	report.Books = len(books)

	for _, book := range books {
		chapters, err := db.ListChapters(book.ID)
		if err != nil {
			return nil, err
		}
		for _, ch := range chapters {
			verses, err := db.ListVerses(ch.ID)
			if err != nil {
				return nil, err
			}
			jobs, err := db.LatestJobs(ch.ID)
			if err != nil {
				return nil, err
			}

			row := ChapterRow{
				Book:     book.Code,
				Number:   ch.Number,
				Verses:   len(verses),
				Missing:  len(ch.MissingVerses),
				Approved: ch.Approved,
			}
			for _, v := range verses {
				if v.STT || v.Modified {
					row.Transcribed++
				}
				if v.Modified {
					report.Modified++
				}
				if v.TTS {
					row.Synthesized++
				}
				if !v.STT && v.STTMsg != "" {
					report.STTFailed++
					errorCounts[v.STTMsg]++
				}
				if !v.TTS && v.TTSMsg != "" {
					report.TTSFailed++
					errorCounts[v.TTSMsg]++
				}
			}
			for _, j := range jobs {
				report.LatestJobs[j.Status]++
			}

			report.Chapters++
			if ch.Approved {
				report.ApprovedChapters++
			}
			report.Verses += row.Verses
			report.MissingVerses += row.Missing
			report.Transcribed += row.Transcribed
			report.Synthesized += row.Synthesized
			report.ChapterRows = append(report.ChapterRows, row)
		}
	}

	report.TopErrors = topErrors(errorCounts, 10)

	if eventLogPath != "" {
		counts, err := countEvents(eventLogPath, project.ID)
		if err != nil {
			util.WarnLog("Failed to read event log %s: %v", eventLogPath, err)
		} else {
			report.EventCounts = counts
		}
	}

	return report, nil
}

// topErrors returns the most common messages
func topErrors(counts map[string]int, limit int) []ErrorSummary {
	errors := make([]ErrorSummary, 0, len(counts))
	for msg, count := range counts {
		errors = append(errors, ErrorSummary{Error: msg, Count: count})
	}

	sort.Slice(errors, func(i, j int) bool {
		if errors[i].Count != errors[j].Count {
			return errors[i].Count > errors[j].Count
		}
		return errors[i].Error < errors[j].Error
	})

	if len(errors) > limit {
		errors = errors[:limit]
	}
	return errors
}

// countEvents tallies event types in a JSONL log. Events tagged with another
// project are ignored; untagged events (file-level diagnostics) are counted.
func countEvents(path string, projectID int64) (map[EventType]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	counts := make(map[EventType]int)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		if ev.ProjectID != 0 && ev.ProjectID != projectID {
			continue
		}
		counts[ev.Event]++
	}
	return counts, scanner.Err()
}

// WriteMarkdownReport writes the project report as Markdown
func WriteMarkdownReport(report *ProjectReport, outputPath string) error {
	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var md strings.Builder

	md.WriteString(fmt.Sprintf("# %s - Project Report\n\n", report.ProjectName))
	md.WriteString(fmt.Sprintf("**Generated:** %s\n\n", report.GeneratedAt.Format("2006-01-02 15:04:05")))
	if report.DatabasePath != "" {
		md.WriteString(fmt.Sprintf("**Database:** `%s`\n\n", report.DatabasePath))
	}
	if report.EventLogPath != "" {
		md.WriteString(fmt.Sprintf("**Event Log:** `%s`\n\n", report.EventLogPath))
	}
	md.WriteString("---\n\n")

	md.WriteString("## 📊 Overview\n\n")
	md.WriteString("| Metric | Value |\n")
	md.WriteString("|--------|-------|\n")
	md.WriteString(fmt.Sprintf("| Project ID | %d |\n", report.ProjectID))
	if report.Archived {
		md.WriteString("| Archived | yes |\n")
	}
	md.WriteString(fmt.Sprintf("| Script Language | %s |\n", orDash(report.ScriptLang)))
	md.WriteString(fmt.Sprintf("| Audio Language | %s |\n", orDash(report.AudioLang)))
	md.WriteString(fmt.Sprintf("| Books | %d |\n", report.Books))
	md.WriteString(fmt.Sprintf("| Chapters | %d (%d approved) |\n", report.Chapters, report.ApprovedChapters))
	md.WriteString(fmt.Sprintf("| Verses | %d |\n", report.Verses))
	if report.MissingVerses > 0 {
		md.WriteString(fmt.Sprintf("| Missing Verses | %d |\n", report.MissingVerses))
	}
	md.WriteString("\n")

	md.WriteString("## 🎙️ Pipeline\n\n")
	md.WriteString("| Metric | Value |\n")
	md.WriteString("|--------|-------|\n")
	md.WriteString(fmt.Sprintf("| Transcribed | %d |\n", report.Transcribed))
	md.WriteString(fmt.Sprintf("| Edited | %d |\n", report.Modified))
	md.WriteString(fmt.Sprintf("| Synthesized | %d |\n", report.Synthesized))
	if report.STTFailed > 0 {
		md.WriteString(fmt.Sprintf("| Transcription Failures | %d |\n", report.STTFailed))
	}
	if report.TTSFailed > 0 {
		md.WriteString(fmt.Sprintf("| Synthesis Failures | %d |\n", report.TTSFailed))
	}
	for _, status := range []store.JobStatus{store.JobPending, store.JobInProgress, store.JobCompleted, store.JobFailed} {
		if n := report.LatestJobs[status]; n > 0 {
			md.WriteString(fmt.Sprintf("| Latest Jobs %s | %d |\n", status, n))
		}
	}
	md.WriteString("\n")

	if len(report.ChapterRows) > 0 {
		md.WriteString("## 📖 Chapters\n\n")
		md.WriteString("| Book | Chapter | Verses | Missing | Transcribed | Synthesized | Approved |\n")
		md.WriteString("|------|---------|--------|---------|-------------|-------------|----------|\n")
		for _, row := range report.ChapterRows {
			approved := ""
			if row.Approved {
				approved = "✅"
			}
			md.WriteString(fmt.Sprintf("| %s | %d | %d | %d | %d | %d | %s |\n",
				row.Book, row.Number, row.Verses, row.Missing, row.Transcribed, row.Synthesized, approved))
		}
		md.WriteString("\n")
	}

	if len(report.TopErrors) > 0 {
		md.WriteString("## ⚠️ Top Errors\n\n")
		md.WriteString("| Count | Error |\n")
		md.WriteString("|-------|-------|\n")
		for _, err := range report.TopErrors {
			md.WriteString(fmt.Sprintf("| %d | %s |\n", err.Count, strings.ReplaceAll(err.Error, "|", `\|`)))
		}
		md.WriteString("\n")
	}

	if len(report.EventCounts) > 0 {
		types := make([]string, 0, len(report.EventCounts))
		for t := range report.EventCounts {
			types = append(types, string(t))
		}
		sort.Strings(types)

		md.WriteString("## 🧾 Events\n\n")
		md.WriteString("| Event | Count |\n")
		md.WriteString("|-------|-------|\n")
		for _, t := range types {
			md.WriteString(fmt.Sprintf("| %s | %d |\n", t, report.EventCounts[EventType(t)]))
		}
		md.WriteString("\n")
	}

	if err := os.WriteFile(outputPath, []byte(md.String()), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
