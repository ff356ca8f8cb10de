// cmd_params.go - Sampler-Parameter aus Datei und Flags
// Hauptfunktionen: loadParamsFile, samplerParams
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/TowsifAhamed/LlamaPanama/llama"
)

// loadParamsFile - Liest Sampler-Parameter aus YAML oder TOML.
// Nicht gesetzte Felder behalten die Werte aus base.
func loadParamsFile(path string, base llama.SamplerParams) (llama.SamplerParams, error) {
	params := base

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		f, err := os.Open(path)
		if err != nil {
			return base, err
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&params); err != nil {
			return base, fmt.Errorf("params %s: %w", path, err)
		}
	case ".toml":
		md, err := toml.DecodeFile(path, &params)
		if err != nil {
			return base, fmt.Errorf("params %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return base, fmt.Errorf("params %s: unknown keys %v", path, undecoded)
		}
	default:
		return base, fmt.Errorf("params %s: unsupported extension %q", path, ext)
	}

	return params, nil
}

// samplerParams - Defaults, dann --params, dann explizit gesetzte Flags
func samplerParams(cmd *cobra.Command, base llama.SamplerParams) (llama.SamplerParams, error) {
	params := base
	flags := cmd.Flags()

	if path, _ := flags.GetString("params"); path != "" {
		var err error
		if params, err = loadParamsFile(path, params); err != nil {
			return params, err
		}
	}

	var err error
	set := func(name string, apply func() error) {
		if err == nil && flags.Lookup(name) != nil && flags.Changed(name) {
			err = apply()
		}
	}

	set("temp", func() (err error) { params.Temperature, err = flags.GetFloat32("temp"); return })
	set("topP", func() (err error) { params.TopP, err = flags.GetFloat32("topP"); return })
	set("topK", func() (err error) { params.TopK, err = flags.GetInt("topK"); return })
	set("repeatPenalty", func() (err error) { params.RepeatPenalty, err = flags.GetFloat32("repeatPenalty"); return })
	set("seed", func() (err error) { params.Seed, err = flags.GetInt("seed"); return })
	set("maxTokens", func() (err error) { params.MaxTokens, err = flags.GetInt("maxTokens"); return })
	set("grammar", func() (err error) { params.Grammar, err = flags.GetString("grammar"); return })
	if err != nil {
		return params, err
	}

	if params.MaxTokens < 0 {
		return params, fmt.Errorf("maxTokens must not be negative, got %d", params.MaxTokens)
	}
	return params.Normalize(), nil
}
