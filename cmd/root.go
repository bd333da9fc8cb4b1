package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/abhisek/apgen/internal/config"
	"github.com/abhisek/apgen/internal/logging"
	"github.com/abhisek/apgen/internal/store"
)

// env is the configuration and logger shared by every subcommand. It is
// filled in by the root command's PersistentPreRunE.
var env struct {
	cfg      *config.Config
	log      *zap.Logger
	closeLog func()
}

var rootCmd = &cobra.Command{
	Use:   "apgen",
	Short: "AP exam practice set generator",
	Long: `apgen turns AP course outlines into practice sets: multiple-choice and
free-response items generated by a language model, validated against the
unit's skills and learning objectives, repaired until each set is full,
and rendered to HTML.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if env.closeLog != nil {
			env.closeLog()
		}
	},
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's
// context; in-flight sets stop at their next model call.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default ./apgen.yaml when present)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("db", "", "Path to SQLite LLM ledger (overrides db_path and APGEN_DB)")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(retrieveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(llmCmd)
	rootCmd.AddCommand(versionCmd)
}

func setup(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	log, closeLog, err := logging.New(logging.Options{
		Level:   cfg.Log.Level,
		Verbose: verbose,
		File:    cfg.Log.File,
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	env.cfg = cfg
	env.log = log
	env.closeLog = closeLog
	return nil
}

// ledgerPath returns the LLM ledger path for generation: --db first, then
// db_path from config. Empty disables the ledger.
func ledgerPath(cmd *cobra.Command) (string, error) {
	p, _ := cmd.Flags().GetString("db")
	if p == "" {
		p = env.cfg.DBPath
	}
	if p == "" {
		return "", nil
	}
	return p, store.EnsureDir(p)
}

// resolveDBPath returns the ledger path for the llm inspection commands,
// falling back to APGEN_DB and then the default XDG path.
func resolveDBPath(cmd *cobra.Command) (string, error) {
	p, err := ledgerPath(cmd)
	if err != nil || p != "" {
		return p, err
	}
	return store.DefaultDBPath()
}
