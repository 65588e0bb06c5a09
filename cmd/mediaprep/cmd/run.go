package cmd

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/msto63/mediaprep/internal/pipeline"
	"github.com/msto63/mediaprep/internal/service"
	"github.com/msto63/mediaprep/pkg/core/logging"
)

var (
	runOptionsFile string
	runSet         []string
	runSeed        uint64
	runOut         string
)

var runCmd = &cobra.Command{
	Use:   "run <operation> <file>",
	Short: "Run a pipeline on a local file",
	Long: `Run one pipeline on a local file and print the executed steps.

Image and audio files are sent base64 encoded, text and OFF mesh files as
text. Options come from a JSON file and/or --set flags; a --set value is
parsed as JSON when possible and used as a string otherwise.

The result is written as JSON to stdout, or to <out>/<request-id>.json
with --out.

Examples:
  mediaprep run text/preprocess notes.txt --set case_normalization=true
  mediaprep run image/augment cat.png --options aug.json --seed 42
  mediaprep run 3d/preprocess bunny.off --set simplify=true --set simplify_ratio=0.25 --out results`,
	Args: cobra.ExactArgs(2),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runOptionsFile, "options", "", "JSON file with pipeline options")
	runCmd.Flags().StringArrayVar(&runSet, "set", nil, "option as key=value (repeatable)")
	runCmd.Flags().Uint64Var(&runSeed, "seed", 0, "seed for augmentation randomness")
	runCmd.Flags().StringVarP(&runOut, "out", "o", "", "directory for the result file")
}

func runRun(cmd *cobra.Command, args []string) error {
	operation, ok := service.Operation(args[0])
	if !ok {
		return fmt.Errorf("unknown operation %q (see 'mediaprep pipelines')", args[0])
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	data, err := readInput(operation, args[1])
	if err != nil {
		return err
	}
	opts, err := buildOptions(runOptionsFile, runSet)
	if err != nil {
		return err
	}

	filler, _ := maskFiller(cfg)
	svc, err := service.New(service.Config{Filler: filler, Logger: logging.New("mediaprep-run")})
	if err != nil {
		return err
	}

	var events []pipeline.Event
	req := &service.Request{
		Operation: operation,
		Data:      data,
		Options:   opts,
		Observer:  func(ev pipeline.Event) { events = append(events, ev) },
	}
	if cmd.Flags().Changed("seed") {
		req.Seed = &runSeed
	}

	resp, err := svc.Process(cmd.Context(), req)
	printSteps(cmd.ErrOrStderr(), operation, events, resp, err)
	if err != nil {
		return err
	}

	body, err := json.MarshalIndent(resp.Result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	if runOut == "" {
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(body))
		return err
	}

	if err := os.MkdirAll(runOut, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(runOut, resp.RequestID+".json")
	if err := os.WriteFile(path, body, 0644); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	fmt.Fprintln(cmd.ErrOrStderr(), mutedStyle.Render("result written to "+path))
	return nil
}

// readInput encodes the file the way the HTTP API expects it for the
// operation's modality.
func readInput(operation, path string) (json.RawMessage, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	modality, _, _ := strings.Cut(operation, "/")
	var s string
	switch modality {
	case service.ModalityImage, service.ModalityAudio:
		s = base64.StdEncoding.EncodeToString(raw)
	default:
		s = string(raw)
	}
	return json.Marshal(s)
}

// buildOptions merges the options file with --set pairs, the pairs winning.
func buildOptions(file string, pairs []string) (pipeline.Options, error) {
	opts := pipeline.Options{}
	if file != "" {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read options: %w", err)
		}
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("invalid options file %s: %w", file, err)
		}
	}

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q, want key=value", pair)
		}
		if json.Valid([]byte(value)) {
			opts[key] = json.RawMessage(value)
			continue
		}
		quoted, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		opts[key] = quoted
	}
	return opts, nil
}

func printSteps(w io.Writer, operation string, events []pipeline.Event, resp *service.Response, runErr error) {
	var b strings.Builder
	b.WriteString(titleStyle.Render(operation) + "\n\n")
	b.WriteString(headerStyle.Render(column("#", 4)+column("STEP", 24)+column("DURATION", 12)) + "\n")

	if len(events) == 0 {
		b.WriteString(mutedStyle.Render("no steps enabled") + "\n")
	}
	for _, ev := range events {
		b.WriteString(column(fmt.Sprintf("%d", ev.Index+1), 4) +
			column(ev.Step, 24) +
			mutedStyle.Render(column(ev.Duration.Round(time.Microsecond).String(), 12)) + "\n")
	}

	b.WriteString("\n")
	if runErr != nil {
		b.WriteString(errorStyle.Render("failed: " + runErr.Error()))
	} else {
		b.WriteString(successStyle.Render("done") + " " +
			mutedStyle.Render(fmt.Sprintf("in %s, seed %d", resp.Duration.Round(time.Microsecond), resp.Seed)))
	}
	fmt.Fprintln(w, boxStyle.Render(b.String()))
}
