// echotrap runs an interactive echo service against a custom kernel's raw
// trap ABI, either on the real machine or inside the built-in simulator.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/echotrap/echotrap/frontend"
)

func main() {
	app := &cli.App{
		Name:  "echotrap",
		Usage: "interactive echo service speaking a raw kernel trap ABI",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "load settings from the TOML `FILE`",
			},
			&cli.BoolFlag{
				Name:  "sim",
				Usage: "run against the built-in simulated kernel (--sim=false forces the real trap vector)",
			},
			&cli.IntFlag{
				Name:    "iterations",
				Aliases: []string{"n"},
				Usage:   "echo iterations before terminating (0 means run unbounded)",
			},
			&cli.BoolFlag{
				Name:    "diagnose",
				Aliases: []string{"d"},
				Usage:   "fork and exec the diagnostic program each iteration",
			},
			&cli.StringFlag{
				Name:  "transcript",
				Usage: "record iterations into the sqlite `FILE`",
			},
			&cli.StringFlag{
				Name:  "profile",
				Usage: "write per-iteration stage timings to the CSV `FILE`",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "dump machine stats at exit",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "init",
				Usage:     "write a starter config file",
				ArgsUsage: "path/to/echotrap.toml",
				Action:    initConfig,
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	l, err := zap.NewProduction()
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to get zap production logger: %v", err), 1)
	}

	logger := l.Sugar()
	defer l.Sync()

	cfg, err := frontend.LoadConfig(c.String("config"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to load config: %v", err), 1)
	}

	applyFlags(c, cfg)

	if err := cfg.Validate(); err != nil {
		return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), 1)
	}

	opts := &frontend.Flags{
		Verbose: c.Bool("verbose"),
	}

	if err := frontend.Run(context.Background(), logger, cfg, opts); err != nil {
		logger.Errorw("echo service failed", "err", err)

		return cli.Exit("echo service failed", 2)
	}

	return nil
}

func initConfig(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		path = "echotrap.toml"
	}

	file, err := os.Create(path)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to create %s: %v", path, err), 1)
	}
	defer file.Close()

	if err := frontend.WriteConfig(file, frontend.DefaultConfig()); err != nil {
		return cli.Exit(fmt.Sprintf("failed to write config: %v", err), 1)
	}

	fmt.Printf("wrote default config to %s\n", path)

	return nil
}

// applyFlags lays the flags the user actually set over the file config.
func applyFlags(c *cli.Context, cfg *frontend.Config) {
	if c.IsSet("sim") {
		cfg.Sim.Enabled = c.Bool("sim")
	}

	if c.IsSet("iterations") {
		cfg.Echo.Iterations = c.Int("iterations")
	}

	if c.IsSet("diagnose") {
		cfg.Echo.Diagnose = c.Bool("diagnose")
	}

	if c.IsSet("transcript") {
		cfg.Record.Transcript = c.String("transcript")
	}

	if c.IsSet("profile") {
		cfg.Profile.Stages = c.String("profile")
	}
}
