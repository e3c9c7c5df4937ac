package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/23skdu/quarrel-kernels/internal/engine"
	"github.com/23skdu/quarrel-kernels/internal/gguf"
	"github.com/23skdu/quarrel-kernels/internal/logger"
	"github.com/23skdu/quarrel-kernels/internal/tensorio"
)

func exportWeightsCmd() *cli.Command {
	var outPath string
	return &cli.Command{
		Name:  "export-weights",
		Usage: "Write the seeded block weights for the configured model to an Arrow IPC or .gguf file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "destination file",
				Required:    true,
				Destination: &outPath,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			block, err := engine.NewBlock(cfg.Model, cfg.KernelDType(), kernelContext())
			if err != nil {
				return err
			}
			ws := block.Weights()
			if isGGUF(outPath) {
				err = gguf.WriteFile(outPath, gguf.Meta{Arch: "llama", Model: cfg.Model}, ws...)
			} else {
				err = tensorio.WriteFile(outPath, ws...)
			}
			if err != nil {
				return err
			}
			logger.Log.Info("weights exported", "out", outPath, "tensors", len(ws), "dtype", block.DType().String())
			return nil
		},
	}
}
