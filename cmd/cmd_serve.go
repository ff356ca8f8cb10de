// cmd_serve.go - Runner-Server
// Hauptfunktionen: RunServer
package cmd

import (
	"errors"
	"log/slog"
	"net"

	"github.com/spf13/cobra"

	"github.com/TowsifAhamed/LlamaPanama/envconfig"
	"github.com/TowsifAhamed/LlamaPanama/llama"
	"github.com/TowsifAhamed/LlamaPanama/runner/llamarunner"
)

// RunServer - Laedt das Modell und startet den HTTP-Runner
func RunServer(cmd *cobra.Command, _ []string) error {
	setupLogging()

	flags := cmd.Flags()
	path, _ := flags.GetString("model")
	if path == "" {
		return errors.New("--model is required")
	}
	numCtx, _ := flags.GetInt("ctx")
	threads, _ := flags.GetInt("threads")
	parallel, _ := flags.GetInt("parallel")

	defaults, err := samplerParams(cmd, llama.DefaultSamplerParams())
	if err != nil {
		return err
	}

	if err := llama.BackendInit(); err != nil {
		return err
	}

	model, err := loadModel(path)
	if err != nil {
		return err
	}
	defer model.Release()

	server, err := llamarunner.NewServer(model, llamarunner.ServerParams{
		Parallel:      parallel,
		NumCtx:        numCtx,
		Threads:       threads,
		Defaults:      defaults,
		EmbedCacheTTL: envconfig.EmbedCacheTTL(),
	})
	if err != nil {
		return err
	}
	defer server.Close()

	ln, err := net.Listen("tcp", envconfig.Host().Host)
	if err != nil {
		return err
	}

	slog.Debug("serving", "model", path, "parallel", parallel)
	return server.Serve(cmd.Context(), ln)
}
