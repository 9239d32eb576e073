package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"stylepipe/state"
)

// Flags shared by commands processing stylesheets.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{Name: "minify", Aliases: []string{"m"}, Usage: "minify produced stylesheets"},
		&cli.BoolFlag{Name: "modules", Usage: "treat every stylesheet as CSS module"},
		&cli.BoolFlag{Name: "hmr", Usage: "add hot reload glue to generated scripts"},
		&cli.StringFlag{Name: "public-url", Usage: "prefix rewritten references with `URL`"},
		&cli.IntFlag{Name: "workers", Aliases: []string{"j"}, Usage: "process `N` stylesheets at once"},
	}
}

// settings applies command line overrides on top of configuration.
func settings(cmd *cli.Command, env *state.LocalEnv) Settings {
	s := SettingsFrom(&env.Cfg.Pipeline)
	if cmd.IsSet("minify") {
		s.Minify = cmd.Bool("minify")
	}
	if cmd.IsSet("modules") {
		s.Modules = cmd.Bool("modules")
	}
	if cmd.IsSet("hmr") {
		s.HMR = cmd.Bool("hmr")
	}
	if cmd.IsSet("public-url") {
		s.PublicURL = cmd.String("public-url")
	}
	if cmd.IsSet("workers") {
		s.Workers = int(cmd.Int("workers"))
	}
	return s
}

func newBuilder(ctx context.Context, cmd *cli.Command) (*Builder, *state.LocalEnv, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	env := state.EnvFromContext(ctx)
	b, err := NewBuilder(env, settings(cmd, env))
	if err != nil {
		return nil, nil, err
	}
	return b, env, nil
}

// Run is the action of "build" command.
func Run(ctx context.Context, cmd *cli.Command) error {
	b, _, err := newBuilder(ctx, cmd)
	if err != nil {
		return err
	}
	if dst := cmd.String("out"); len(dst) > 0 {
		b.settings.OutDir = dst
	}
	if b.settings.OutDir, err = filepath.Abs(b.settings.OutDir); err != nil {
		return err
	}

	inputs := cmd.Args().Slice()
	if len(inputs) == 0 {
		return errors.New("no input source has been specified")
	}

	b.log.Info("Processing starting", zap.Strings("sources", inputs), zap.String("destination", b.settings.OutDir))
	defer func(start time.Time) {
		b.log.Info("Processing completed", zap.Duration("elapsed", time.Since(start)))
	}(time.Now())

	return b.Build(ctx, inputs)
}

// RunDeps is the action of "deps" command.
func RunDeps(ctx context.Context, cmd *cli.Command) error {
	b, _, err := newBuilder(ctx, cmd)
	if err != nil {
		return err
	}
	inputs := cmd.Args().Slice()
	if len(inputs) == 0 {
		return errors.New("no input source has been specified")
	}
	return b.Deps(ctx, inputs, os.Stdout)
}

// RunInline is the action of "inline" command.
func RunInline(ctx context.Context, cmd *cli.Command) error {
	b, env, err := newBuilder(ctx, cmd)
	if err != nil {
		return err
	}

	src := cmd.Args().Get(0)
	if len(src) == 0 {
		return errors.New("no input document has been specified")
	}
	if src, err = filepath.Abs(src); err != nil {
		return err
	}
	if cmd.Args().Len() > 2 {
		b.log.Warn("Malformed command line, too many destinations", zap.Strings("ignoring", cmd.Args().Slice()[2:]))
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("unable to read document: %w", err)
	}
	env.Rpt.StoreData("input/"+filepath.Base(src), data)

	var buf bytes.Buffer
	if err := b.Inline(ctx, bytes.NewReader(data), src, &buf); err != nil {
		return err
	}
	env.Rpt.StoreData("output/"+filepath.Base(src), buf.Bytes())

	dst := cmd.Args().Get(1)
	if len(dst) == 0 {
		_, err = os.Stdout.Write(buf.Bytes())
		return err
	}
	if err := os.WriteFile(dst, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("unable to write document: %w", err)
	}
	b.log.Info("Document written", zap.String("destination", dst))
	return nil
}
