package main

// Run the label pipeline against a local photo and print the result:
//   go run ./cmd/analyze -image ./cereal.jpg
//
// Re-parse a saved model response without calling the provider:
//   go run ./cmd/analyze -parse ./response.txt

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"label-decoder/internal/analyses"
	"label-decoder/internal/bootstrap"
	"label-decoder/internal/intake"
	"label-decoder/internal/llm"
	"label-decoder/internal/shared/config"
	"label-decoder/internal/shared/storage/db"
	"label-decoder/internal/shared/telemetry"
)

func main() {
	imagePath := flag.String("image", "", "Path to a label photo (png, jpg, jpeg, gif, bmp, webp)")
	parsePath := flag.String("parse", "", "Path to a saved model response to parse offline")
	outPath := flag.String("out", "", "Path to write the JSON result (optional)")
	showPrompt := flag.Bool("prompt", false, "Print the prompt and its hash, then exit")
	flag.Parse()

	telemetry.SetOutput(os.Stderr)

	switch {
	case *showPrompt:
		fmt.Printf("# prompt %s\n%s\n", llm.PromptHash(), llm.LabelPrompt())
	case strings.TrimSpace(*parsePath) != "":
		raw, err := os.ReadFile(*parsePath)
		if err != nil {
			exitErr(fmt.Sprintf("read response: %v", err))
		}
		writeJSON(*outPath, analyses.Parse(string(raw)))
	case strings.TrimSpace(*imagePath) != "":
		out, err := analyzeImage(*imagePath)
		writeJSON(*outPath, out)
		if err != nil {
			exitErr(err.Error())
		}
	default:
		exitErr("one of -image, -parse or -prompt is required")
	}
}

func analyzeImage(path string) (analyses.Outcome, error) {
	cfg, err := config.Load()
	if err != nil {
		return analyses.Outcome{}, fmt.Errorf("config: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return analyses.Outcome{}, fmt.Errorf("read image: %w", err)
	}

	ctx := context.Background()
	cliOpts := db.OptionsFromEnv(db.DefaultCLIOptions())
	app, err := bootstrap.Build(ctx, cfg, bootstrap.Options{DBOptions: &cliOpts, SkipRouter: true})
	if err != nil {
		return analyses.Outcome{}, fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	out, err := app.AnalysesService.Submit(ctx, intake.Upload{
		FileName:    filepath.Base(path),
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
		Data:        data,
	})
	if err != nil {
		if failure, ok := llm.AsFailure(err); ok {
			return out, fmt.Errorf("analysis failed (%s): %v", failure.Kind, failure.Err)
		}
		if errors.Is(err, analyses.ErrResultLostOnWrite) {
			return out, fmt.Errorf("analysis completed but was not saved: %w", err)
		}
		return out, err
	}
	return out, nil
}

func writeJSON(path string, v any) {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		exitErr(fmt.Sprintf("encode result: %v", err))
	}
	encoded = append(encoded, '\n')
	if strings.TrimSpace(path) == "" {
		_, _ = os.Stdout.Write(encoded)
		return
	}
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		exitErr(fmt.Sprintf("write output: %v", err))
	}
}

func exitErr(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
