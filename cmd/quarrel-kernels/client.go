package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/23skdu/quarrel-kernels/internal/tensorflight"
	"github.com/23skdu/quarrel-kernels/internal/tensorio"
)

func addrFlag(dst *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "addr",
		Usage:       "tensor store address",
		Value:       "localhost:8815",
		Destination: dst,
	}
}

func pushCmd() *cli.Command {
	var addr, inPath string
	return &cli.Command{
		Name:  "push",
		Usage: "Upload the tensors of an Arrow IPC file to a tensor store and print their tickets",
		Flags: []cli.Flag{
			addrFlag(&addr),
			&cli.StringFlag{
				Name:        "in",
				Aliases:     []string{"i"},
				Required:    true,
				Destination: &inPath,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ts, err := tensorio.ReadFile(inPath)
			if err != nil {
				return err
			}
			c, err := tensorflight.Dial(addr)
			if err != nil {
				return err
			}
			defer c.Close()
			tickets, err := c.Put(ctx, ts...)
			if err != nil {
				return err
			}
			for i, tk := range tickets {
				fmt.Fprintf(os.Stdout, "%s\t%s\n", tk, ts[i].Name())
			}
			return nil
		},
	}
}

func pullCmd() *cli.Command {
	var addr, ticket, outPath string
	var list bool
	return &cli.Command{
		Name:  "pull",
		Usage: "Download a tensor by ticket, or list the store with --list",
		Flags: []cli.Flag{
			addrFlag(&addr),
			&cli.StringFlag{Name: "ticket", Destination: &ticket},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Destination: &outPath},
			&cli.BoolFlag{Name: "list", Aliases: []string{"l"}, Destination: &list},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			c, err := tensorflight.Dial(addr)
			if err != nil {
				return err
			}
			defer c.Close()

			if list {
				entries, err := c.List(ctx)
				if err != nil {
					return err
				}
				for _, e := range entries {
					fmt.Fprintf(os.Stdout, "%s\t%s\t%s\t%d\n", e.Ticket, e.Name, e.DType, e.Bytes)
				}
				return nil
			}
			if ticket == "" || outPath == "" {
				return cli.Exit("pull needs --ticket and --out (or --list)", 1)
			}
			t, err := c.Get(ctx, ticket)
			if err != nil {
				return err
			}
			return tensorio.WriteFile(outPath, t)
		},
	}
}
