// cmd.go - Haupt-CLI Setup und Root Command
// Hauptfunktionen: NewCLI, appendEnvDocs, setupLogging
package cmd

import (
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/TowsifAhamed/LlamaPanama/envconfig"
	"github.com/TowsifAhamed/LlamaPanama/logutil"
	"github.com/TowsifAhamed/LlamaPanama/version"
)

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-28s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// setupLogging - Setzt den Default-Logger auf stderr mit LLAMAPANAMA_DEBUG-Level
func setupLogging() {
	slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel()))
}

// versionHandler - Zeigt die Version an
func versionHandler(cmd *cobra.Command, _ []string) {
	fmt.Fprintf(cmd.OutOrStdout(), "llamapanama version is %s\n", version.Version)
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "llamapanama",
		Short:         "Streaming text generation and embeddings on a local model",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if version, _ := cmd.Flags().GetBool("version"); version {
				versionHandler(cmd, args)
				return nil
			}

			// ohne Modell nur die Hilfe; sonst wie generate
			if model, _ := cmd.Flags().GetString("model"); model == "" {
				cmd.Print(cmd.UsageString())
				return nil
			}

			return GenerateHandler(cmd, args)
		},
	}

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
	addGenerateFlags(rootCmd)

	generateCmd := newGenerateCmd()
	embedCmd := newEmbedCmd()
	serveCmd := newServeCmd()

	envVars := envconfig.AsMap()
	clientEnvs := []envconfig.EnvVar{
		envVars["LLAMAPANAMA_DEBUG"],
		envVars["LLAMAPANAMA_HOST"],
		envVars["LLAMAPANAMA_CONTEXT_LENGTH"],
		envVars["LLAMAPANAMA_NUM_THREAD"],
		envVars["LLAMAPANAMA_GPU_LAYERS"],
	}

	for _, cmd := range []*cobra.Command{rootCmd, generateCmd, embedCmd, serveCmd} {
		switch cmd {
		case serveCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{
				envVars["LLAMAPANAMA_DEBUG"],
				envVars["LLAMAPANAMA_HOST"],
				envVars["LLAMAPANAMA_MODEL"],
				envVars["LLAMAPANAMA_ORIGINS"],
				envVars["LLAMAPANAMA_NUM_PARALLEL"],
				envVars["LLAMAPANAMA_CONTEXT_LENGTH"],
				envVars["LLAMAPANAMA_NUM_THREAD"],
				envVars["LLAMAPANAMA_GPU_LAYERS"],
				envVars["LLAMAPANAMA_EMBED_CACHE_TTL"],
			})
		case rootCmd, generateCmd:
			appendEnvDocs(cmd, append(clientEnvs, envVars["LLAMAPANAMA_MAX_TOKENS"], envVars["LLAMAPANAMA_NOWORDWRAP"]))
		default:
			appendEnvDocs(cmd, clientEnvs)
		}
	}

	rootCmd.AddCommand(
		generateCmd,
		embedCmd,
		serveCmd,
	)

	return rootCmd
}
