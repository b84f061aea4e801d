package main

import (
	"fmt"

	"github.com/Bridgeconn/obt-workflow/internal/util"
	"github.com/spf13/cobra"
)

var languagesCmd = &cobra.Command{
	Use:   "languages",
	Short: "List script languages, their models and source languages",
	RunE:  runLanguages,
}

var setLanguagesCmd = &cobra.Command{
	Use:   "set-languages <project-id>",
	Short: "Set the script (transcription) and audio (synthesis) languages of a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runSetLanguages,
}

func init() {
	rootCmd.AddCommand(languagesCmd)
	rootCmd.AddCommand(setLanguagesCmd)

	setLanguagesCmd.Flags().String("script", "", "script language used for transcription")
	setLanguagesCmd.Flags().String("audio", "", "audio language used for synthesis")
}

func runLanguages(cmd *cobra.Command, args []string) error {
	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	util.InfoLog("=== Script Languages ===")
	for _, lang := range a.catalog.ScriptLanguages() {
		stt, sttErr := a.catalog.STTModel(lang)
		tts, ttsErr := a.catalog.TTSModel(lang)
		line := lang
		if sttErr == nil {
			line += fmt.Sprintf(" | stt %s (%s)", stt.Name, stt.Code)
		}
		if ttsErr == nil {
			line += fmt.Sprintf(" | tts %s (%s)", tts.Name, tts.Code)
		}
		util.InfoLog("  %s", line)
	}

	sources := a.catalog.SourceLanguages()
	if len(sources) > 0 {
		util.InfoLog("")
		util.InfoLog("=== Source Languages ===")
		for _, src := range sources {
			util.InfoLog("  %s -> %s", src.Name, src.ScriptLanguage)
		}
	}
	return nil
}

func runSetLanguages(cmd *cobra.Command, args []string) error {
	projectID, err := parseID(args[0], "project")
	if err != nil {
		return err
	}
	script, _ := cmd.Flags().GetString("script")
	audio, _ := cmd.Flags().GetString("audio")
	if script == "" && audio == "" {
		return fmt.Errorf("%w: set --script and/or --audio", util.ErrInvalidConfig)
	}

	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	p, err := a.store.GetProject(projectID)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("project %d: %w", projectID, util.ErrNotFound)
	}
	if script == "" {
		script = p.ScriptLang
	}
	if audio == "" {
		audio = p.AudioLang
	}

	if err := a.project.SetLanguages(projectID, script, audio); err != nil {
		return err
	}
	util.SuccessLog("Project %d: script %q, audio %q", projectID, script, audio)
	return nil
}
