package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/Brownie44l1/imgclass-api/internal/config"
	"github.com/Brownie44l1/imgclass-api/internal/provision"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var log = logrus.New()

// Exit codes.
const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitConfigError  = 2
	ExitDownload     = 5
	ExitValidation   = 6
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCodeFromError(err))
	}
}

func newRootCmd() *cobra.Command {
	var configPath, logLevel string

	root := &cobra.Command{
		Use:           "imgclass",
		Short:         "Image classification API backed by cloud-hosted ONNX models",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logrus.ParseLevel(logLevel)
			if err != nil {
				return fmt.Errorf("%w: %v", config.ErrInvalid, err)
			}
			log.SetLevel(level)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	serve := newServeCmd(&configPath)
	root.RunE = serve.RunE
	root.AddCommand(
		serve,
		newFetchCmd(&configPath),
		newClassifyCmd(&configPath),
		newResolveURLCmd(),
	)
	return root
}

func exitCodeFromError(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, config.ErrInvalid), errors.Is(err, config.ErrUnset),
		errors.Is(err, provision.ErrUnsupportedSource):
		return ExitConfigError
	case errors.Is(err, provision.ErrDownload), errors.Is(err, provision.ErrConfirmationTokenNotFound):
		return ExitDownload
	case errors.Is(err, provision.ErrValidation):
		return ExitValidation
	default:
		return ExitGeneralError
	}
}
