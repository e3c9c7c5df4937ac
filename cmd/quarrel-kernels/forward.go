package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/23skdu/quarrel-kernels/internal/engine"
	"github.com/23skdu/quarrel-kernels/internal/gguf"
	"github.com/23skdu/quarrel-kernels/internal/logger"
	"github.com/23skdu/quarrel-kernels/internal/ollama"
	"github.com/23skdu/quarrel-kernels/internal/tensorio"
	"github.com/23skdu/quarrel-kernels/internal/tokenizer"
)

type forwardReport struct {
	DType     string            `json:"dtype"`
	Tokens    []int64           `json:"tokens"`
	Next      int64             `json:"next"`
	Logit     float32           `json:"logit"`
	Stats     engine.LogitStats `json:"stats"`
	Generated []int64           `json:"generated,omitempty"`
	Text      string            `json:"text,omitempty"`
}

func forwardCmd() *cli.Command {
	var (
		tokensArg   string
		prompt      string
		weightsPath string
		layer       int64
		generate    int64
		asJSON      bool
	)
	return &cli.Command{
		Name:  "forward",
		Usage: "Run token ids through one decoder block and report the greedy next token",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "tokens",
				Usage:       "comma separated token ids",
				Destination: &tokensArg,
			},
			&cli.StringFlag{
				Name:        "prompt",
				Aliases:     []string{"p"},
				Usage:       "text prompt, encoded with the vocabulary of a .gguf weight file",
				Destination: &prompt,
			},
			&cli.StringFlag{
				Name:        "weights",
				Aliases:     []string{"w"},
				Usage:       "Arrow IPC file, .gguf file or Ollama model name (default: seeded random weights)",
				Destination: &weightsPath,
			},
			&cli.Int64Flag{
				Name:        "layer",
				Usage:       "which block of a .gguf file to run",
				Destination: &layer,
			},
			&cli.Int64Flag{
				Name:        "generate",
				Aliases:     []string{"n"},
				Usage:       "greedily extend the prompt by this many tokens",
				Destination: &generate,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print the report as JSON",
				Destination: &asJSON,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			block, tok, err := loadModel(weightsPath, int(layer))
			if err != nil {
				return err
			}
			tokens, err := inputTokens(tokensArg, prompt, tok)
			if err != nil {
				return err
			}
			res, err := block.Forward(tokens)
			if err != nil {
				return err
			}
			rep := forwardReport{
				DType:  block.DType().String(),
				Tokens: tokens,
				Next:   res.Token,
				Logit:  res.Logit,
				Stats:  res.Stats,
			}
			if generate > 0 {
				seq, err := block.Generate(tokens, int(generate))
				if err != nil {
					return err
				}
				rep.Generated = seq[len(tokens):]
				if tok != nil {
					rep.Text = tok.Decode(rep.Generated)
				}
			}
			return printReport(os.Stdout, rep, asJSON)
		},
	}
}

// loadModel builds the block to run. A .gguf file also supplies the model
// hyperparameters and, when it carries one, a vocabulary; tok is nil
// otherwise.
func loadModel(weightsPath string, layer int) (block *engine.Block, tok *tokenizer.Tokenizer, err error) {
	if weightsPath == "" {
		block, err = engine.NewBlock(cfg.Model, cfg.KernelDType(), kernelContext())
		return block, nil, err
	}
	path, ggufFile, err := resolveWeights(weightsPath)
	if err != nil {
		return nil, nil, err
	}
	if !ggufFile {
		ts, err := tensorio.ReadFile(path)
		if err != nil {
			return nil, nil, err
		}
		block, err = engine.LoadBlock(cfg.Model, ts, kernelContext())
		return block, nil, err
	}

	f, err := gguf.LoadFile(path)
	if err != nil {
		return nil, nil, err
	}
	m, err := f.ModelConfig(cfg.Model)
	if err != nil {
		return nil, nil, err
	}
	ts, err := f.BlockWeights(layer)
	if err != nil {
		return nil, nil, err
	}
	if block, err = engine.LoadBlock(m, ts, kernelContext()); err != nil {
		return nil, nil, err
	}
	if tok, err = tokenizer.FromGGUF(f); err != nil {
		logger.Log.Debug("no vocabulary in weight file", "path", weightsPath, "reason", err.Error())
		tok = nil
	}
	return block, tok, nil
}

func inputTokens(tokensArg, prompt string, tok *tokenizer.Tokenizer) ([]int64, error) {
	switch {
	case tokensArg != "" && prompt != "":
		return nil, fmt.Errorf("--tokens and --prompt are mutually exclusive")
	case prompt != "":
		if tok == nil {
			return nil, fmt.Errorf("--prompt needs a .gguf weight file with a vocabulary")
		}
		return tok.Encode(prompt)
	default:
		return parseTokens(tokensArg)
	}
}

// resolveWeights maps the --weights argument to a file. Paths ending in
// .gguf are GGUF, other existing files are Arrow IPC, and anything else is
// tried as the name of a locally pulled Ollama model.
func resolveWeights(arg string) (path string, ggufFile bool, err error) {
	if isGGUF(arg) {
		return arg, true, nil
	}
	if _, err := os.Stat(arg); err == nil {
		return arg, false, nil
	}
	r, err := ollama.NewResolver()
	if err != nil {
		return "", false, err
	}
	blob, err := r.Resolve(arg)
	if err != nil {
		return "", false, fmt.Errorf("weights %q is not a file: %w", arg, err)
	}
	logger.Log.Info("resolved ollama model", "model", arg, "blob", blob)
	return blob, true, nil
}

func isGGUF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".gguf")
}

func parseTokens(s string) ([]int64, error) {
	var out []int64
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid token id %q: %w", f, err)
		}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no token ids in %q", s)
	}
	return out, nil
}

func printReport(w io.Writer, rep forwardReport, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	fmt.Fprintf(w, "dtype:     %s\n", rep.DType)
	fmt.Fprintf(w, "tokens:    %v\n", rep.Tokens)
	fmt.Fprintf(w, "next:      %d (logit %.4f)\n", rep.Next, rep.Logit)
	fmt.Fprintf(w, "logits:    max %.4f min %.4f mean %.4f rms %.4f\n", rep.Stats.Max, rep.Stats.Min, rep.Stats.Mean, rep.Stats.RMS)
	if rep.Stats.NaNs > 0 || rep.Stats.Infs > 0 || rep.Stats.Flat {
		fmt.Fprintf(w, "warning:   nan=%d inf=%d flat=%v\n", rep.Stats.NaNs, rep.Stats.Infs, rep.Stats.Flat)
	}
	if len(rep.Generated) > 0 {
		fmt.Fprintf(w, "generated: %v\n", rep.Generated)
	}
	if rep.Text != "" {
		fmt.Fprintf(w, "text:      %q\n", rep.Text)
	}
	return nil
}
