package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Bridgeconn/obt-workflow/internal/project"
	"github.com/Bridgeconn/obt-workflow/internal/report"
	"github.com/Bridgeconn/obt-workflow/internal/util"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show [project-id]",
	Short: "List projects, or show the chapters and verses of one project",
	Long: `Without arguments, list projects. With a project id, show every chapter
with its verse counts and approval state.

Use --chapter to list the verses of one chapter with their latest jobs,
and --report to write a Markdown report of the project.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)

	showCmd.Flags().Bool("all", false, "include archived projects")
	showCmd.Flags().Int64("chapter", 0, "show the verses of one chapter")
	showCmd.Flags().Bool("report", false, "write a Markdown report under artifacts/reports")
	showCmd.Flags().String("event-log", "", "event log to summarize in the report (optional)")
}

func runShow(cmd *cobra.Command, args []string) error {
	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	if chapterID, _ := cmd.Flags().GetInt64("chapter"); chapterID > 0 {
		status, err := a.project.ChapterStatus(chapterID)
		if err != nil {
			return err
		}
		printChapter(status)
		return nil
	}

	if len(args) == 0 {
		all, _ := cmd.Flags().GetBool("all")
		return listProjects(a, all)
	}

	projectID, err := parseID(args[0], "project")
	if err != nil {
		return err
	}
	ov, err := a.project.Overview(projectID)
	if err != nil {
		return err
	}
	printOverview(a, ov)

	if writeReport, _ := cmd.Flags().GetBool("report"); writeReport {
		eventLog, _ := cmd.Flags().GetString("event-log")
		rep, err := report.GenerateProjectReport(a.store, projectID, eventLog)
		if err != nil {
			return fmt.Errorf("failed to generate report: %w", err)
		}
		rep.DatabasePath = a.dbPath

		timestamp := time.Now().Format("20060102-150405")
		reportPath := filepath.Join(GetConfigString("artifacts", "artifacts"), "reports", timestamp, "summary.md")
		if err := report.WriteMarkdownReport(rep, reportPath); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		util.SuccessLog("Report saved to: %s", reportPath)
	}
	return nil
}

func listProjects(a *app, includeArchived bool) error {
	projects, err := a.project.Projects(includeArchived)
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		util.WarnLog("No projects found. Run 'obt upload <zip>' first.")
		return nil
	}

	util.InfoLog("=== Projects ===")
	for _, p := range projects {
		flags := ""
		if p.Archived {
			flags = " [archived]"
		}
		util.InfoLog("  %4d  %-30s owner=%s script=%s audio=%s created %s%s",
			p.ID, p.Name, p.Owner, orDash(p.ScriptLang), orDash(p.AudioLang),
			humanize.Time(p.CreatedAt), flags)
	}
	return nil
}

func printOverview(a *app, ov *project.Overview) {
	p := ov.Project
	util.InfoLog("=== %s (project %d) ===", p.Name, p.ID)
	util.InfoLog("Owner: %s | Script: %s | Audio: %s", p.Owner, orDash(p.ScriptLang), orDash(p.AudioLang))
	if p.Archived {
		util.WarnLog("Archived")
	}
	if pkg := a.layout.PackagePath(p.ID, p.Name); fileExists(pkg) {
		info, _ := os.Stat(pkg)
		util.InfoLog("Package: %s (%s)", pkg, humanize.Bytes(uint64(info.Size())))
	}
	util.InfoLog("")

	for _, b := range ov.Books {
		util.InfoLog("%s", b.Book.Code)
		for _, ch := range b.Chapters {
			approved := ""
			if ch.Chapter.Approved {
				approved = " ✓ approved"
			}
			line := fmt.Sprintf("  ch %-3d id=%-5d verses %d | text %d | edited %d | audio %d%s",
				ch.Chapter.Number, ch.Chapter.ID, len(ch.Verses), ch.Transcribed(), ch.Modified(), ch.Synthesized(), approved)
			if len(ch.Chapter.MissingVerses) > 0 {
				line += fmt.Sprintf(" | missing %v", ch.Chapter.MissingVerses)
			}
			util.InfoLog("%s", line)
		}
	}
}

func printChapter(st *project.ChapterStatus) {
	util.InfoLog("=== %s %s %d (chapter %d) ===", st.Project.Name, st.Book.Code, st.Chapter.Number, st.Chapter.ID)
	textWidth := max(20, util.TerminalWidth()-70)
	for _, v := range st.Verses {
		state := []string{}
		if v.STT {
			state = append(state, "stt")
		}
		if v.Modified {
			state = append(state, "edited")
		}
		if v.TTS {
			state = append(state, "tts")
		}
		job := ""
		if j := st.Jobs[v.ID]; j != nil {
			job = fmt.Sprintf(" [%s %s]", j.Kind, j.Status)
		}
		util.InfoLog("  v%-3d id=%-6d %-16s %-14s%s %s", v.Number, v.ID, v.Name, strings.Join(state, ","), job, truncate(v.Text, textWidth))
		if !v.STT && v.STTMsg != "" {
			util.WarnLog("        stt: %s", v.STTMsg)
		}
		if !v.TTS && v.TTSMsg != "" {
			util.WarnLog("        tts: %s", v.TTSMsg)
		}
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-3]) + "..."
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
