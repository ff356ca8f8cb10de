// cmd_builders.go - Command-Builder Funktionen
// Hauptfunktionen: newGenerateCmd, newEmbedCmd, newServeCmd, addGenerateFlags
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/TowsifAhamed/LlamaPanama/envconfig"
	"github.com/TowsifAhamed/LlamaPanama/llama"
)

// addModelFlags - Flags fuer Modell und Context
func addModelFlags(cmd *cobra.Command) {
	cmd.Flags().String("model", envconfig.Model(), "Path to the model file")
	cmd.Flags().Int("ctx", int(envconfig.ContextLength()), "Context window size in tokens")
	cmd.Flags().Int("threads", int(envconfig.NumThread()), "Threads per context (0 = number of CPUs)")
	cmd.Flags().Bool("remote", false, "Send the request to a running runner at LLAMAPANAMA_HOST")
}

// addGenerateFlags - Flags fuer generate; auch auf dem Root-Command
func addGenerateFlags(cmd *cobra.Command) {
	defaults := llama.DefaultSamplerParams()

	addModelFlags(cmd)
	cmd.Flags().String("prompt", "Hello", "Prompt to generate from")
	cmd.Flags().Int("maxTokens", int(envconfig.MaxTokens()), "Maximum number of tokens to generate")
	cmd.Flags().Float32("temp", defaults.Temperature, "Sampling temperature")
	cmd.Flags().Float32("topP", defaults.TopP, "Nucleus sampling threshold")
	cmd.Flags().Int("topK", defaults.TopK, "Top-k sampling limit")
	cmd.Flags().Float32("repeatPenalty", defaults.RepeatPenalty, "Repetition penalty")
	cmd.Flags().Int("seed", defaults.Seed, "Sampling seed")
	cmd.Flags().String("grammar", "", "Grammar constraining the output (empty = none)")
	cmd.Flags().String("params", "", "Sampler parameters file (.yaml, .yml or .toml)")
	cmd.Flags().Bool("nowordwrap", envconfig.NoWordWrap(), "Don't wrap words to the next line automatically")
	cmd.Flags().Bool("verbose", false, "Show timings for response")
}

// newGenerateCmd - Erstellt den generate Command
func newGenerateCmd() *cobra.Command {
	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Stream a completion for a prompt",
		Args:  cobra.NoArgs,
		RunE:  GenerateHandler,
	}

	addGenerateFlags(generateCmd)
	return generateCmd
}

// newEmbedCmd - Erstellt den embed Command
func newEmbedCmd() *cobra.Command {
	embedCmd := &cobra.Command{
		Use:   "embed",
		Short: "Print the embedding of a prompt",
		Args:  cobra.NoArgs,
		RunE:  EmbedHandler,
	}

	addModelFlags(embedCmd)
	embedCmd.Flags().String("prompt", "", "Text to embed")
	embedCmd.Flags().Bool("normalize", false, "Scale the embedding to unit length (remote only)")
	return embedCmd
}

// newServeCmd - Erstellt den serve Command
func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start the HTTP runner",
		Args:    cobra.ExactArgs(0),
		RunE:    RunServer,
	}

	serveCmd.Flags().String("model", envconfig.Model(), "Path to the model file")
	serveCmd.Flags().Int("ctx", int(envconfig.ContextLength()), "Context window size per slot")
	serveCmd.Flags().Int("threads", int(envconfig.NumThread()), "Threads per context (0 = number of CPUs)")
	serveCmd.Flags().Int("parallel", int(envconfig.NumParallel()), "Number of parallel slots")
	serveCmd.Flags().String("params", "", "Default sampler parameters file (.yaml, .yml or .toml)")
	return serveCmd
}
