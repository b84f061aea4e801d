package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/Bridgeconn/obt-workflow/internal/util"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var usfmCmd = &cobra.Command{
	Use:   "usfm <project-id> <BOOK>",
	Short: "Regenerate the USFM text of one book",
	Args:  cobra.ExactArgs(2),
	RunE:  runUSFM,
}

var exportCmd = &cobra.Command{
	Use:   "export <project-id>",
	Short: "Package a project as a Scripture Burrito zip",
	Long: `Package a project as a Scripture Burrito zip.

USFM is regenerated for every book first. Synthesized audio replaces the
recording with the same name; everything else comes from the uploaded
package. The zip is written next to the project's input and output trees.`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

var archiveCmd = &cobra.Command{
	Use:   "archive <project-id>",
	Short: "Archive a project (or restore it with --undo)",
	Args:  cobra.ExactArgs(1),
	RunE:  runArchive,
}

func init() {
	rootCmd.AddCommand(usfmCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(archiveCmd)

	archiveCmd.Flags().Bool("undo", false, "restore an archived project")
}

func runUSFM(cmd *cobra.Command, args []string) error {
	projectID, err := parseID(args[0], "project")
	if err != nil {
		return err
	}
	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	path, err := a.project.ExportUSFM(projectID, strings.ToUpper(args[1]))
	if err != nil {
		return fmt.Errorf("USFM export failed: %w", err)
	}
	util.SuccessLog("Wrote %s", path)
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	projectID, err := parseID(args[0], "project")
	if err != nil {
		return err
	}
	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	util.InfoLog("=== Export ===")
	stop := spin(fmt.Sprintf("Packaging project %d", projectID))
	res, err := a.project.ExportProject(context.Background(), projectID)
	stop()
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	util.SuccessLog("Package: %s (%s)", res.Path, humanize.Bytes(uint64(res.Size)))
	util.InfoLog("Audio files: %d (%d synthesized)", res.AudioFiles, res.Synthesized)
	util.InfoLog("USFM books: %s", strings.Join(res.USFM, ", "))
	for book, err := range res.USFMErrors {
		util.WarnLog("USFM for %s not regenerated: %v", book, err)
	}
	return nil
}

func runArchive(cmd *cobra.Command, args []string) error {
	projectID, err := parseID(args[0], "project")
	if err != nil {
		return err
	}
	undo, _ := cmd.Flags().GetBool("undo")

	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.project.SetArchived(projectID, !undo); err != nil {
		return err
	}
	if undo {
		util.SuccessLog("Project %d restored", projectID)
	} else {
		util.SuccessLog("Project %d archived", projectID)
	}
	return nil
}
