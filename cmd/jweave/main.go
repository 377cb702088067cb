package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/jweave/internal/config"
	"github.com/standardbeagle/jweave/internal/debug"
	"github.com/standardbeagle/jweave/internal/version"
	"github.com/standardbeagle/jweave/internal/weaver"
)

func main() {
	app := &cli.App{
		Name:                   "jweave",
		Usage:                  "JVM bytecode mixin weaver",
		Version:                version.Info(),
		UseShortOptionHandling: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "root",
				Aliases: []string{"r"},
				Usage:   "Project root directory (where .jweave.kdl lives)",
				Value:   ".",
			},
			&cli.StringSliceFlag{
				Name:  "exclude",
				Usage: "Additional exclude glob patterns",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Emit debug-level diagnostics",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "weave",
				Aliases:   []string{"w"},
				Usage:     "Transform the class tree and write the woven output",
				ArgsUsage: " ",
				Action:    runWeave,
			},
			{
				Name:      "inspect",
				Aliases:   []string{"i"},
				Usage:     "Dump the structure and bytecode of a class file",
				ArgsUsage: "<file.class>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "code",
						Usage: "Include method bodies",
						Value: true,
					},
				},
				Action: runInspect,
			},
			{
				Name:   "watch",
				Usage:  "Weave continuously as class files change",
				Action: runWatch,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig loads .jweave.kdl from the root flag and applies CLI overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	root, err := filepath.Abs(c.String("root"))
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadKDL(root)
	if err != nil {
		return nil, err
	}
	cfg.Exclude = append(cfg.Exclude, c.StringSlice("exclude")...)
	if err := config.NewValidator().ValidateAndSetDefaults(cfg); err != nil {
		return nil, err
	}
	setupDiagnostics(c, cfg)
	return cfg, nil
}

func setupDiagnostics(c *cli.Context, cfg *config.Config) {
	switch cfg.Debug.Level {
	case "debug":
		debug.SetLevel(debug.LevelDebug)
	case "warn":
		debug.SetLevel(debug.LevelWarn)
	case "error":
		debug.SetLevel(debug.LevelError)
	}
	if c.Bool("verbose") {
		debug.SetLevel(debug.LevelDebug)
	}
	if cfg.Debug.LogFile {
		if path, err := debug.InitLogFile(); err == nil {
			fmt.Fprintln(os.Stderr, "diagnostics:", path)
		}
	}
}

func runWeave(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	defer debug.Close()

	w, err := weaver.New(cfg)
	if err != nil {
		return err
	}
	start := time.Now()
	stats, err := w.Run(c.Context)
	if err != nil {
		return err
	}
	fmt.Printf("wove %d class(es) with %d mixin(s) in %s (%d copied, %d excluded)\n",
		stats.Transformed, stats.Mixins, time.Since(start).Round(time.Millisecond),
		stats.Copied, stats.Excluded)
	return nil
}

func runWatch(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	defer debug.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("watching %s (debounce %dms), ctrl-c to stop\n",
		cfg.Paths.Classes, cfg.Watch.DebounceMs)
	err = weaver.Watch(ctx, cfg, func(stats weaver.Stats, err error) {
		if err != nil {
			fmt.Fprintln(os.Stderr, "weave failed:", err)
			return
		}
		fmt.Printf("wove %d class(es), copied %d\n", stats.Transformed, stats.Copied)
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}
