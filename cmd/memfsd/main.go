// Package main provides the entry point for memfsd, which serves an
// in-memory filesystem over FUSE.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/ajaxzhan/sandbox-memfs/internal/config"
)

func main() {
	app := &cli.App{
		Name:  "memfsd",
		Usage: "serve an in-memory POSIX filesystem over FUSE",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML configuration file",
				EnvVars: []string{"MEMFS_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "mount",
				Aliases: []string{"m"},
				Usage:   "mount point, overrides mount.path",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error, overrides logging.level",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "serve Prometheus metrics on this address, enables metrics",
			},
		},
		Action: run,
		Commands: []*cli.Command{{
			Name:  "default-config",
			Usage: "print the default configuration as YAML",
			Action: func(c *cli.Context) error {
				out, err := yaml.Marshal(config.DefaultConfig())
				if err != nil {
					return err
				}
				_, err = os.Stdout.Write(out)
				return err
			},
		}},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "memfsd: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration file and applies flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(c.String("config"))
	if err != nil {
		return nil, err
	}

	if c.IsSet("mount") {
		cfg.Mount.Path = c.String("mount")
	}
	if c.IsSet("log-level") {
		cfg.Logging.Level = c.String("log-level")
	}
	if c.IsSet("metrics-addr") {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = c.String("metrics-addr")
	}
	return cfg, cfg.Validate()
}
