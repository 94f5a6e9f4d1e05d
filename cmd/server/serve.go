package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Brownie44l1/imgclass-api/internal/handlers"
	"github.com/Brownie44l1/imgclass-api/internal/model"
	"github.com/spf13/cobra"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Provision every model and serve predictions over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runServe(ctx, *configPath)
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}

	if err := model.InitRuntime(a.cfg.OnnxRuntimeLib); err != nil {
		return err
	}
	defer model.ShutdownRuntime()

	classifiers, err := a.loadTasks(ctx, a.cfg.Tasks)
	if err != nil {
		return err
	}
	defer closeAll(classifiers)

	handler := handlers.NewHandler(log.WithField("component", "handlers"), a.cfg.MaxUploadBytes)
	for i, t := range a.cfg.Tasks {
		handler.Register(t.Name, t.Title, classifiers[i])
		log.Infof("Task %s: labels %v, input %dx%d (%s)", t.Name, t.Labels, t.ImageSize, t.ImageSize, t.Layout)
	}

	mux := http.NewServeMux()
	handler.Routes(mux)
	server := &http.Server{Addr: a.cfg.Listen, Handler: handlers.CORS(mux)}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.ListenAndServe()
	}()

	log.Infof("Server listening on %s", a.cfg.Listen)
	log.Infoln("Endpoints:")
	log.Infoln("  GET  /health               - Health check")
	log.Infoln("  GET  /tasks                - Available classifiers")
	log.Infoln("  POST /predict/{task}       - Raw tensor prediction")
	log.Infoln("  POST /predict/{task}/image - Predict from image upload")

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Infoln("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Errorf("Server shutdown error: %v", err)
		}
	}
	log.Infoln("Server stopped")
	return nil
}
