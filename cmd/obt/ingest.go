package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Bridgeconn/obt-workflow/internal/reconcile"
	"github.com/Bridgeconn/obt-workflow/internal/util"
	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <zip>",
	Short: "Create a project from a Scripture Burrito zip",
	Long: `Create a project from a Scripture Burrito zip.

The archive is extracted, wrapper folders are flattened and every book under
the ingredients folder is reconciled against the versification:
- Duplicate takes of a verse are resolved (1_1 beats 1_1_default beats takes)
- Unknown book codes are skipped
- Chapters and verses beyond the versification drop the whole book

If no book survives, nothing is kept.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

var addBookCmd = &cobra.Command{
	Use:   "add-book <project-id> <BOOK.zip>",
	Short: "Add a single book to an existing project",
	Long: `Add a single book to an existing project.

The archive name is the book code (GEN.zip). Chapters the project already has
are skipped; any chapter or verse outside the versification rejects the
whole archive without touching the project.`,
	Args: cobra.ExactArgs(2),
	RunE: runAddBook,
}

func init() {
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(addBookCmd)

	uploadCmd.Flags().String("owner", "", "project owner (default: config owner)")
}

func parseID(arg, what string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", what, arg)
	}
	return id, nil
}

func runUpload(cmd *cobra.Command, args []string) error {
	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	owner, _ := cmd.Flags().GetString("owner")
	if owner == "" {
		owner = viper.GetString("owner")
	}

	util.InfoLog("=== Upload ===")
	start := time.Now()
	stop := spin("Ingesting " + filepath.Base(args[0]))
	res, err := a.project.Upload(context.Background(), args[0], owner)
	stop()
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}

	util.InfoLog("")
	util.SuccessLog("Project %d created: %s", res.Project.ID, res.Project.Name)
	util.InfoLog("Archive: %d files, %s", res.Archive.Files, humanize.Bytes(uint64(res.Archive.Bytes)))
	util.InfoLog("Books: %d | Chapters: %d | Verses: %d", len(res.Books), res.ChapterCount(), res.VerseCount())
	for _, b := range res.Books {
		printBook(b)
	}
	if len(res.SkippedBooks) > 0 {
		util.WarnLog("Skipped books: %s", strings.Join(res.SkippedBooks, ", "))
	}
	printIncompatible(res.Incompatible())
	util.InfoLog("Took %v", time.Since(start).Round(time.Millisecond))
	return nil
}

func runAddBook(cmd *cobra.Command, args []string) error {
	projectID, err := parseID(args[0], "project")
	if err != nil {
		return err
	}
	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	book, err := a.project.AddBook(context.Background(), projectID, args[1])
	if err != nil {
		return fmt.Errorf("add-book failed: %w", err)
	}

	if len(book.Chapters) == 0 {
		util.WarnLog("%s: every chapter is already present, nothing added", book.Code)
	} else {
		util.SuccessLog("Added %s to project %d", book.Code, projectID)
	}
	printBook(book)
	printIncompatible(book.Incompatible)
	return nil
}

// spin shows an indeterminate spinner on terminals until the returned func is called
func spin(label string) func() {
	if !util.ShowProgress() {
		return func() {}
	}
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(label),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
	)
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				bar.Add(1)
			}
		}
	}()
	return func() {
		close(done)
		<-finished
		bar.Finish()
	}
}

func printBook(b *reconcile.BookResult) {
	util.InfoLog("  %s: %d chapters, %d verses", b.Code, len(b.Chapters), b.VerseCount())
	for _, ch := range b.Chapters {
		if len(ch.Missing) > 0 {
			util.InfoLog("    chapter %d missing verses %v", ch.Number, ch.Missing)
		}
	}
	if len(b.SkippedChapters) > 0 {
		util.InfoLog("    skipped chapters %v", b.SkippedChapters)
	}
}

func printIncompatible(names []string) {
	if len(names) == 0 {
		return
	}
	util.WarnLog("Incompatible files (%d):", len(names))
	for i, name := range names {
		if i >= 20 {
			util.WarnLog("  ... and %d more", len(names)-20)
			break
		}
		util.WarnLog("  - %s", name)
	}
}
