package state

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"stylepipe/project"
	"stylepipe/transform"
)

func newLocalEnv() *LocalEnv {
	return &LocalEnv{start: time.Now()}
}

// Prepare creates project and pipeline for configured root directory,
// current directory is used when root is not configured.
func (e *LocalEnv) Prepare() error {
	if e.Cfg == nil {
		return errors.New("configuration is not loaded")
	}
	log := e.Log
	if log == nil {
		log = zap.NewNop()
	}

	root := e.Cfg.Pipeline.RootDir
	if len(root) == 0 {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("unable to get working directory: %w", err)
		}
		root = wd
	}

	prj, err := project.New(root, log)
	if err != nil {
		return fmt.Errorf("unable to open project at '%s': %w", root, err)
	}
	e.Project = prj
	e.Pipeline = transform.New(
		transform.WithConfigSource(prj),
		transform.WithAliases(prj, prj),
		transform.WithMinifier(e.Cfg.Pipeline.Minifier),
		transform.WithLoader(transform.NewFileSystemLoader(prj.Root(), transform.ModulesOptions{}, log)),
		transform.WithLogger(log),
	)
	log.Debug("Pipeline prepared", zap.String("root", prj.Root()), zap.String("minifier", e.Cfg.Pipeline.Minifier))
	return nil
}
