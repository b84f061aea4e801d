package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/Bridgeconn/obt-workflow/internal/aiclient"
	"github.com/Bridgeconn/obt-workflow/internal/language"
	"github.com/Bridgeconn/obt-workflow/internal/store"
	"github.com/Bridgeconn/obt-workflow/internal/usfm"
	"github.com/Bridgeconn/obt-workflow/internal/util"
	"github.com/Bridgeconn/obt-workflow/internal/versification"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks on the environment and configuration",
	Long: `Run diagnostic checks to ensure obt can operate correctly.

This command checks:
- ffmpeg and ffprobe (needed to resample non-WAV synthesized audio)
- Database accessibility and integrity
- Versification, language and book metadata files
- Workspace permissions and disk space
- Speech service reachability and served models`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

type checkResult struct {
	name    string
	message string
	error   bool
	warning bool
}

func runDoctor(cmd *cobra.Command, args []string) error {
	util.InfoLog("=== OBT Doctor - System Diagnostics ===")
	util.InfoLog("")

	baseDir := GetConfigString("base-dir", "./data/projects")
	results := []checkResult{
		checkTool("ffmpeg"),
		checkTool("ffprobe"),
		checkSQLite(),
		checkDatabase(GetConfigString("db", "./data/obt.db")),
		checkVersification(viper.GetString("versification")),
		checkLanguages(viper.GetString("languages")),
		checkBookMetadata(viper.GetString("book-metadata")),
		checkWorkspace(baseDir),
		checkDiskSpace(baseDir),
		checkService(viper.GetString("ai.base-url"), viper.GetString("ai.token")),
	}

	util.InfoLog("=== Diagnostic Results ===")
	util.InfoLog("")

	hasErrors := false
	hasWarnings := false
	for _, r := range results {
		symbol := "✓"
		if r.error {
			symbol = "✗"
			hasErrors = true
		} else if r.warning {
			symbol = "⚠"
			hasWarnings = true
		}

		line := fmt.Sprintf("[%s] %s", symbol, r.name)
		if r.message != "" {
			line += fmt.Sprintf(": %s", r.message)
		}

		if r.error {
			util.ErrorLog("%s", line)
		} else if r.warning {
			util.WarnLog("%s", line)
		} else {
			util.SuccessLog("%s", line)
		}
	}

	util.InfoLog("")
	if hasErrors {
		util.ErrorLog("❌ Some critical checks failed. Please resolve errors before running obt.")
		return fmt.Errorf("system diagnostics failed")
	} else if hasWarnings {
		util.WarnLog("⚠️  Some checks produced warnings. Review them before proceeding.")
	} else {
		util.SuccessLog("✅ All checks passed!")
	}
	return nil
}

// checkTool verifies an ffmpeg binary is available and reports its version.
// Missing tools only warn: WAV output is resampled without them.
func checkTool(name string) checkResult {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	output, err := exec.CommandContext(ctx, name, "-version").CombinedOutput()
	if err != nil {
		return checkResult{
			name:    name,
			warning: true,
			message: "not found (needed to resample mp3/flac/ogg/m4a output)",
		}
	}

	version := "unknown"
	lines := strings.Split(string(output), "\n")
	if parts := strings.Fields(lines[0]); len(parts) >= 3 {
		version = parts[2]
	}
	return checkResult{name: name, message: fmt.Sprintf("version %s", version)}
}

// checkSQLite verifies the embedded SQLite engine
func checkSQLite() checkResult {
	version := store.SQLiteVersion()
	if version == "" {
		return checkResult{name: "SQLite", error: true, message: "unable to determine version"}
	}
	return checkResult{name: "SQLite", message: fmt.Sprintf("version %s (built-in)", version)}
}

// checkDatabase verifies database file accessibility
func checkDatabase(dbPath string) checkResult {
	if dbPath == "" {
		return checkResult{
			name:    "Database",
			warning: true,
			message: "no database path specified (use --db flag or config)",
		}
	}

	info, err := os.Stat(dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return checkResult{
				name:    "Database",
				message: fmt.Sprintf("%s (will be created on first run)", dbPath),
			}
		}
		return checkResult{name: "Database", error: true, message: fmt.Sprintf("cannot access %s: %v", dbPath, err)}
	}
	if !info.Mode().IsRegular() {
		return checkResult{name: "Database", error: true, message: fmt.Sprintf("%s is not a regular file", dbPath)}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return checkResult{name: "Database", error: true, message: fmt.Sprintf("cannot open %s: %v", dbPath, err)}
	}
	defer db.Close()

	if err := db.CheckIntegrity(); err != nil {
		return checkResult{name: "Database", error: true, message: fmt.Sprintf("integrity check failed: %v", err)}
	}

	projects, _ := db.ListProjects(true)
	inFlight, _ := db.CountJobsByStatus(store.JobInProgress)
	result := checkResult{
		name:    "Database",
		message: fmt.Sprintf("%s (%s, %d projects)", dbPath, humanize.Bytes(uint64(info.Size())), len(projects)),
	}
	if inFlight > 0 {
		result.warning = true
		result.message += fmt.Sprintf(", %d jobs left in progress by an interrupted run", inFlight)
	}
	return result
}

// checkVersification loads the versification table
func checkVersification(path string) checkResult {
	if path == "" {
		return checkResult{
			name:    "Versification",
			error:   true,
			message: "not configured (set --versification or OBT_VERSIFICATION)",
		}
	}
	idx, err := versification.Load(path)
	if err != nil {
		return checkResult{name: "Versification", error: true, message: err.Error()}
	}
	return checkResult{name: "Versification", message: fmt.Sprintf("%s (%d books)", path, len(idx.Books()))}
}

// checkLanguages loads the language table
func checkLanguages(path string) checkResult {
	catalog, err := language.Load(path)
	if err != nil {
		return checkResult{name: "Languages", error: true, message: err.Error()}
	}
	source := "built-in"
	if path != "" {
		source = path
	}
	return checkResult{
		name:    "Languages",
		message: fmt.Sprintf("%s (%d script languages)", source, len(catalog.ScriptLanguages())),
	}
}

// checkBookMetadata loads the optional USFM title table
func checkBookMetadata(path string) checkResult {
	if path == "" {
		return checkResult{
			name:    "Book metadata",
			warning: true,
			message: "not configured; USFM headers will use book codes",
		}
	}
	books, err := usfm.LoadMetadata(path)
	if err != nil {
		return checkResult{name: "Book metadata", error: true, message: err.Error()}
	}
	return checkResult{name: "Book metadata", message: fmt.Sprintf("%s (%d books)", path, len(books))}
}

// checkWorkspace verifies the project root is writable
func checkWorkspace(path string) checkResult {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(path, 0755); err != nil {
				return checkResult{name: "Workspace", error: true, message: fmt.Sprintf("cannot create %s: %v", path, err)}
			}
			return checkResult{name: "Workspace", message: fmt.Sprintf("%s (created)", path)}
		}
		return checkResult{name: "Workspace", error: true, message: fmt.Sprintf("cannot access %s: %v", path, err)}
	}
	if !info.IsDir() {
		return checkResult{name: "Workspace", error: true, message: fmt.Sprintf("%s is not a directory", path)}
	}

	testFile := filepath.Join(path, ".obt_write_test")
	f, err := os.Create(testFile)
	if err != nil {
		return checkResult{name: "Workspace", error: true, message: fmt.Sprintf("cannot write to %s: %v", path, err)}
	}
	f.Close()
	os.Remove(testFile)

	return checkResult{name: "Workspace", message: fmt.Sprintf("%s (writable)", path)}
}

// checkDiskSpace verifies available disk space under the workspace
func checkDiskSpace(path string) checkResult {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return checkResult{
			name:    "Disk space",
			warning: true,
			message: fmt.Sprintf("cannot determine disk space: %v", err),
		}
	}

	availBytes := stat.Bavail * uint64(stat.Bsize)
	totalBytes := stat.Blocks * uint64(stat.Bsize)
	usedBytes := totalBytes - (stat.Bfree * uint64(stat.Bsize))
	usedPercent := float64(usedBytes) / float64(totalBytes) * 100

	// Warn below 2 GB or above 90% used
	result := checkResult{name: "Disk space", message: fmt.Sprintf("%s available", humanize.Bytes(availBytes))}
	if availBytes < 2<<30 {
		result.warning = true
		result.message += " (low space!)"
	} else if usedPercent > 90 {
		result.warning = true
		result.message += " (>90% used)"
	}
	return result
}

// checkService lists the models the speech service currently hosts
func checkService(baseURL, token string) checkResult {
	if baseURL == "" {
		return checkResult{
			name:    "Speech service",
			warning: true,
			message: "ai.base-url not configured; stt and tts are unavailable",
		}
	}

	client, err := aiclient.New(&aiclient.Config{BaseURL: baseURL, Token: token, Timeout: 10 * time.Second})
	if err != nil {
		return checkResult{name: "Speech service", error: true, message: err.Error()}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	models, err := client.ServedModels(ctx)
	if err != nil {
		return checkResult{name: "Speech service", error: true, message: fmt.Sprintf("%s unreachable: %v", baseURL, err)}
	}
	if len(models) == 0 {
		return checkResult{name: "Speech service", warning: true, message: fmt.Sprintf("%s serves no models", baseURL)}
	}
	return checkResult{
		name:    "Speech service",
		message: fmt.Sprintf("%s (%s)", baseURL, strings.Join(models, ", ")),
	}
}
