package main

import (
	"fmt"
	"strings"

	"github.com/Bridgeconn/obt-workflow/internal/util"
	"github.com/spf13/cobra"
)

var editVerseCmd = &cobra.Command{
	Use:   "edit-verse <verse-id> <text>",
	Short: "Correct the text of a verse",
	Long: `Correct the text of a verse.

The verse is marked as edited: later transcription runs leave it alone,
its synthesized audio is deleted and its chapter loses approval.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runEditVerse,
}

var approveCmd = &cobra.Command{
	Use:   "approve <chapter-id>",
	Short: "Approve a chapter (or revoke approval with --revoke)",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprove,
}

func init() {
	rootCmd.AddCommand(editVerseCmd)
	rootCmd.AddCommand(approveCmd)

	approveCmd.Flags().Bool("revoke", false, "revoke approval")
}

func runEditVerse(cmd *cobra.Command, args []string) error {
	verseID, err := parseID(args[0], "verse")
	if err != nil {
		return err
	}
	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	v, err := a.project.EditVerse(verseID, strings.Join(args[1:], " "))
	if err != nil {
		return fmt.Errorf("edit failed: %w", err)
	}
	util.SuccessLog("Verse %d (%s) updated", v.ID, v.Name)
	return nil
}

func runApprove(cmd *cobra.Command, args []string) error {
	chapterID, err := parseID(args[0], "chapter")
	if err != nil {
		return err
	}
	revoke, _ := cmd.Flags().GetBool("revoke")

	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.project.ApproveChapter(chapterID, !revoke); err != nil {
		return err
	}
	if revoke {
		util.SuccessLog("Chapter %d approval revoked", chapterID)
	} else {
		util.SuccessLog("Chapter %d approved", chapterID)
	}
	return nil
}
