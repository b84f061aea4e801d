package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/Bridgeconn/obt-workflow/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	// Version is set at build time
	Version = "dev"

	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "obt",
		Short: "Oral Bible Translation workflow - ingest, transcribe and resynthesize verse audio",
		Long: `obt manages Oral Bible Translation projects packaged as Scripture Burrito zips.
It ingests verse recordings, reconciles them against a versification,
sends them through a remote speech service for transcription and synthesis,
and exports USFM text and complete project packages.`,
		Version:      Version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			util.SetVerbose(viper.GetBool("verbose"))
			util.SetQuiet(viper.GetBool("quiet"))
			if viper.GetBool("no-color") {
				util.SetColors(false)
			}
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./configs/obt.yaml)")
	flags.String("db", "./data/obt.db", "state database file")
	flags.String("base-dir", "./data/projects", "project workspace root")
	flags.String("artifacts", "artifacts", "event log directory")
	flags.String("versification", "", "versification JSON (required for ingestion and USFM)")
	flags.String("languages", "", "language table JSON (default: built-in table)")
	flags.String("book-metadata", "", "book titles JSON for USFM headers")
	flags.String("log-level", "info", "minimum event log level (debug, info, warning, error)")
	flags.BoolP("verbose", "v", false, "verbose output")
	flags.BoolP("quiet", "q", false, "quiet output (errors only)")
	flags.Bool("no-color", false, "disable colored output")

	// Bind flags to viper
	bindFlags(flags, "db", "base-dir", "artifacts", "versification", "languages", "book-metadata", "log-level", "verbose", "quiet", "no-color")

	viper.SetDefault("owner", os.Getenv("USER"))
	viper.SetDefault("ai.timeout", "30s")
	viper.SetDefault("ai.poll-interval", "5s")
	viper.SetDefault("ai.submit-concurrency", 4)
}

// bindFlags binds each named flag to the viper key of the same name
func bindFlags(flags *pflag.FlagSet, names ...string) {
	for _, name := range names {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}

func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in common locations
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
		viper.SetConfigName("obt")
		viper.SetConfigType("yaml")
	}

	// Read in environment variables that match, e.g. OBT_AI_BASE_URL
	viper.SetEnvPrefix("OBT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// If a config file is found, read it in
	if err := viper.ReadInConfig(); err == nil && !viper.GetBool("quiet") {
		util.DebugLog("Using config file: %s", viper.ConfigFileUsed())
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
