package main

import (
	"context"
	"fmt"
	"math"

	"github.com/urfave/cli/v3"

	"github.com/23skdu/quarrel-kernels/internal/logger"
	"github.com/23skdu/quarrel-kernels/internal/tensor"
	"github.com/23skdu/quarrel-kernels/internal/tensorio"
)

func attentionCmd() *cli.Command {
	var (
		inPath  string
		outPath string
		scale   float64
	)
	return &cli.Command{
		Name:  "attention",
		Usage: "Run causal self-attention over q, k and v read from an Arrow IPC file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "in",
				Aliases:     []string{"i"},
				Usage:       "Arrow IPC file holding tensors named q, k and v",
				Required:    true,
				Destination: &inPath,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "Arrow IPC file to write the output tensor to",
				Required:    true,
				Destination: &outPath,
			},
			&cli.Float64Flag{
				Name:        "scale",
				Usage:       "score scale (0 = 1/sqrt(head_dim))",
				Destination: &scale,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ts, err := tensorio.ReadFile(inPath)
			if err != nil {
				return err
			}
			out, err := runAttention(ts, float32(scale))
			if err != nil {
				return err
			}
			if err := tensorio.WriteFile(outPath, out); err != nil {
				return err
			}
			logger.Log.Info("attention written", "out", outPath, "shape", fmt.Sprint(out.Shape()), "dtype", out.DType().String())
			return nil
		},
	}
}

// runAttention looks up q, k and v by name and returns a fresh output
// tensor of q's dtype shaped [seq, heads, value_dim].
func runAttention(ts []*tensor.Tensor, scale float32) (*tensor.Tensor, error) {
	var qkv [3]*tensor.Tensor
	for i, name := range []string{"q", "k", "v"} {
		if qkv[i] = tensorio.Lookup(ts, name); qkv[i] == nil {
			return nil, fmt.Errorf("attention: input has no tensor named %q", name)
		}
	}
	q, k, v := qkv[0], qkv[1], qkv[2]
	if q.NDim() != 3 || v.NDim() != 3 {
		return nil, fmt.Errorf("attention: q and v must be rank 3, got %v and %v", q.Shape(), v.Shape())
	}
	if scale == 0 {
		scale = float32(1 / math.Sqrt(float64(q.Dim(2))))
	}
	out, err := tensor.New("out", q.DType(), q.Dim(0), q.Dim(1), v.Dim(2))
	if err != nil {
		return nil, err
	}
	if err := kernelContext().SelfAttention(out, q, k, v, scale); err != nil {
		return nil, err
	}
	return out, nil
}
