package main

import (
	"fmt"
	"os"

	"github.com/Brownie44l1/imgclass-api/internal/model"
	"github.com/Brownie44l1/imgclass-api/internal/provision"
	"github.com/docker/go-units"
	"github.com/opencontainers/go-digest"
	"github.com/spf13/cobra"
)

func newFetchCmd(configPath *string) *cobra.Command {
	var load bool

	cmd := &cobra.Command{
		Use:   "fetch [task...]",
		Short: "Download and validate model artifacts without serving",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			tasks, err := a.selectTasks(args)
			if err != nil {
				return err
			}

			if load {
				if err := model.InitRuntime(a.cfg.OnnxRuntimeLib); err != nil {
					return err
				}
				defer model.ShutdownRuntime()
			}

			out := cmd.OutOrStdout()
			for _, t := range tasks {
				src, err := a.source(t)
				if err != nil {
					return err
				}
				spec := specFor(t)
				info, err := provision.Ensure(ctx, a.prov, src, func(path string) (os.FileInfo, error) {
					if load {
						sess, err := model.Open(path, spec)
						if err != nil {
							return nil, err
						}
						closeLogged(sess)
					}
					return os.Stat(path)
				})
				if err != nil {
					return fmt.Errorf("task %q: %w", t.Name, err)
				}

				dgst, err := fileDigest(src.Path())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", t.Name, src.Path(), units.HumanSize(float64(info.Size())), dgst)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&load, "load", false, "also open each model with ONNX Runtime")
	return cmd
}

func fileDigest(path string) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return digest.FromReader(f)
}
