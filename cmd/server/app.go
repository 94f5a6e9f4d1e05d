package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Brownie44l1/imgclass-api/internal/config"
	"github.com/Brownie44l1/imgclass-api/internal/model"
	"github.com/Brownie44l1/imgclass-api/internal/provision"
	"github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// app holds what every command needs: config, secret resolution and the
// provisioner.
type app struct {
	cfg      *config.Config
	resolver *config.Resolver
	prov     *provision.Provisioner
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	resolver, err := config.NewResolver(cfg.SecretsFile)
	if err != nil {
		return nil, err
	}

	opts := []provision.Option{
		provision.WithLogger(log.WithField("component", "provision")),
	}
	if key, err := resolver.Lookup("google_api_key", ""); err == nil {
		drive, err := provision.NewDriveOpener(ctx, key.Value)
		if err != nil {
			return nil, err
		}
		log.Infof("Google Drive sources use the Drive API (key from %s)", key.Origin)
		opts = append(opts, provision.WithDrive(drive))
	} else if !errors.Is(err, config.ErrUnset) {
		return nil, err
	}

	return &app{cfg: cfg, resolver: resolver, prov: provision.New(opts...)}, nil
}

func (a *app) source(t config.Task) (provision.Source, error) {
	setting, err := a.resolver.Lookup(t.URLKey, t.URL)
	if err != nil {
		return provision.Source{}, fmt.Errorf("model URL for task %q: %w", t.Name, err)
	}
	log.WithFields(logrus.Fields{"task": t.Name, "key": setting.Key}).Debugf("model URL from %s", setting.Origin)

	var opts []provision.SourceOption
	if t.Digest != "" {
		opts = append(opts, provision.WithDigest(digest.Digest(t.Digest)))
	}
	return provision.NewSource(setting.Value, a.cfg.CachePath(t), opts...)
}

func specFor(t config.Task) model.Spec {
	return model.Spec{
		Labels:     t.Labels,
		ImageSize:  t.ImageSize,
		Layout:     t.Layout,
		InputName:  t.InputName,
		OutputName: t.OutputName,
	}
}

// loadTask provisions the task's model and opens an inference session on it.
// A session that fails to open marks the artifact as corrupt.
func (a *app) loadTask(ctx context.Context, t config.Task) (*model.Classifier, error) {
	src, err := a.source(t)
	if err != nil {
		return nil, err
	}
	spec := specFor(t)
	sess, err := provision.Ensure(ctx, a.prov, src, func(path string) (*model.Session, error) {
		return model.Open(path, spec)
	})
	if err != nil {
		return nil, fmt.Errorf("task %q: %w", t.Name, err)
	}
	return model.NewClassifier(spec, sess), nil
}

// loadTasks provisions all tasks concurrently. On failure every classifier
// that did load is closed.
func (a *app) loadTasks(ctx context.Context, tasks []config.Task) ([]*model.Classifier, error) {
	classifiers := make([]*model.Classifier, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range tasks {
		g.Go(func() error {
			c, err := a.loadTask(gctx, t)
			if err != nil {
				return err
			}
			classifiers[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		closeAll(classifiers)
		return nil, err
	}
	return classifiers, nil
}

func closeAll(classifiers []*model.Classifier) {
	for _, c := range classifiers {
		if c != nil {
			closeLogged(c)
		}
	}
}

// closeLogged closes c and logs, rather than returns, any error.
func closeLogged(c io.Closer) {
	if err := c.Close(); err != nil {
		log.Warnf("closing session: %v", err)
	}
}

func (a *app) selectTasks(names []string) ([]config.Task, error) {
	if len(names) == 0 {
		return a.cfg.Tasks, nil
	}
	tasks := make([]config.Task, 0, len(names))
	for _, n := range names {
		t, ok := a.cfg.Task(n)
		if !ok {
			return nil, fmt.Errorf("%w: unknown task %q", config.ErrInvalid, n)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}
