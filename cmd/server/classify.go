package main

import (
	"encoding/json"
	"fmt"
	"image"
	"os"

	"github.com/Brownie44l1/imgclass-api/internal/config"
	"github.com/Brownie44l1/imgclass-api/internal/model"
	"github.com/spf13/cobra"
)

func newClassifyCmd(configPath *string) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "classify <task> <image>",
		Short: "Classify one local image file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			t, ok := a.cfg.Task(args[0])
			if !ok {
				return fmt.Errorf("%w: unknown task %q", config.ErrInvalid, args[0])
			}

			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			img, _, err := image.Decode(f)
			if err != nil {
				return fmt.Errorf("decoding %s: %w", args[1], err)
			}

			if err := model.InitRuntime(a.cfg.OnnxRuntimeLib); err != nil {
				return err
			}
			defer model.ShutdownRuntime()

			c, err := a.loadTask(ctx, t)
			if err != nil {
				return err
			}
			defer c.Close()

			result, err := c.Classify(img)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return json.NewEncoder(out).Encode(result)
			}
			fmt.Fprintf(out, "Prediction: %s (confidence: %.2f)\n", result.Label, result.Confidence)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full prediction as JSON")
	return cmd
}
