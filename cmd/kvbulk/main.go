package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ankur-anand/kvbulk/cmd/kvbulk/cliapp"
	"github.com/ankur-anand/kvbulk/cmd/kvbulk/config"
	"github.com/ankur-anand/kvbulk/internal/logutil"
	"github.com/ankur-anand/kvbulk/internal/output"
	"github.com/urfave/cli/v2"
)

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to the TOML config file; defaults to an in-memory store",
		EnvVars: []string{"KVBULK_CONFIG"},
	}
	formatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Value:   "table",
		Usage:   "Output format: table, json",
	}
	tableFlag = &cli.StringFlag{
		Name:     "table",
		Aliases:  []string{"t"},
		Required: true,
		Usage:    "Table name",
	}
	partitionsFlag = &cli.IntFlag{
		Name:    "partitions",
		Aliases: []string{"p"},
		Value:   4,
		Usage:   "Number of input partitions",
	}
	keysFileFlag = &cli.StringFlag{
		Name:  "keys-file",
		Usage: "File with one row key per line; '-' reads stdin",
	}
)

func getFormatter(c *cli.Context) (output.Formatter, error) {
	format := c.String("format")
	if format != "table" && format != "json" {
		return nil, fmt.Errorf("invalid format %q: must be 'table' or 'json'", format)
	}
	return output.NewFormatter(output.Format(format)), nil
}

func main() {
	app := &cli.App{
		Name:    "kvbulk",
		Usage:   "Partitioned bulk reads and writes against a wide-column store",
		Version: "0.1.0",
		Flags:   []cli.Flag{configFlag},
		Commands: []*cli.Command{
			serveCommand(),
			createTableCommand(),
			loadCommand(),
			getCommand(),
			scanCommand(),
			incrCommand(),
			deleteCommand(),
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads the config and the logger it describes.
func setup(c *cli.Context) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logutil.New(os.Stderr, cfg.Log)
	if err != nil {
		return config.Config{}, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// withRuntime runs fn with a runtime that is closed afterwards.
func withRuntime(c *cli.Context, fn func(rt *cliapp.Runtime) error) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	rt, err := cliapp.NewRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

// readKeys returns the positional args followed by the keys in the keys
// file, one per line.
func readKeys(c *cli.Context) ([]string, error) {
	keys := c.Args().Slice()
	if !c.IsSet("keys-file") {
		return keys, nil
	}
	in, err := openInput(c.String("keys-file"))
	if err != nil {
		return nil, err
	}
	defer in.Close()
	b, err := io.ReadAll(in)
	if err != nil {
		return nil, err
	}
	for line := range strings.Lines(string(b)) {
		if k := strings.TrimSpace(line); k != "" {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve an embedded store over HTTP",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "no-banner", Usage: "Do not print the banner"},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := setup(c)
			if err != nil {
				return err
			}
			return cliapp.Serve(c.Context, cfg, logger, !c.Bool("no-banner"))
		},
	}
}

func createTableCommand() *cli.Command {
	return &cli.Command{
		Name:      "create-table",
		Usage:     "Create an empty table",
		ArgsUsage: "<name>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("create-table takes exactly one table name")
			}
			return withRuntime(c, func(rt *cliapp.Runtime) error {
				return rt.CreateTable(c.Context, c.Args().First())
			})
		},
	}
}

func loadCommand() *cli.Command {
	return &cli.Command{
		Name:  "load",
		Usage: "Bulk put rows from a JSON lines file",
		Flags: []cli.Flag{
			tableFlag,
			partitionsFlag,
			&cli.StringFlag{
				Name:    "file",
				Aliases: []string{"i"},
				Value:   "-",
				Usage:   "JSON lines input; '-' reads stdin",
			},
			&cli.BoolFlag{Name: "hash", Usage: "Partition rows by a hash of the row key"},
			&cli.BoolFlag{Name: "if-absent", Usage: "Only write rows whose first column is not set"},
			formatFlag,
		},
		Action: func(c *cli.Context) error {
			f, err := getFormatter(c)
			if err != nil {
				return err
			}
			in, err := openInput(c.String("file"))
			if err != nil {
				return err
			}
			defer in.Close()
			rows, err := cliapp.ReadRows(in)
			if err != nil {
				return err
			}
			opts := cliapp.LoadOptions{
				Table:      c.String("table"),
				Partitions: c.Int("partitions"),
				HashRows:   c.Bool("hash"),
			}

			return withRuntime(c, func(rt *cliapp.Runtime) error {
				if c.Bool("if-absent") {
					outcomes, err := rt.LoadIfAbsent(c.Context, rows, opts)
					if err != nil {
						return err
					}
					return f.WriteOutcomes(os.Stdout, outcomes)
				}
				summary, err := rt.Load(c.Context, rows, opts)
				if err != nil {
					return err
				}
				return f.WriteSummary(os.Stdout, summary)
			})
		},
	}
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Bulk get rows by key",
		ArgsUsage: "[key...]",
		Flags: []cli.Flag{
			tableFlag,
			partitionsFlag,
			keysFileFlag,
			&cli.StringSliceFlag{Name: "column", Usage: "Return only family or family:qualifier"},
			formatFlag,
		},
		Action: func(c *cli.Context) error {
			f, err := getFormatter(c)
			if err != nil {
				return err
			}
			keys, err := readKeys(c)
			if err != nil {
				return err
			}
			return withRuntime(c, func(rt *cliapp.Runtime) error {
				rows, err := rt.Get(c.Context, c.String("table"), keys, c.StringSlice("column"), c.Int("partitions"))
				if err != nil {
					return err
				}
				return f.WriteRows(os.Stdout, rows)
			})
		},
	}
}

func scanCommand() *cli.Command {
	return &cli.Command{
		Name:  "scan",
		Usage: "Scan a row range, one partition per split",
		Flags: []cli.Flag{
			tableFlag,
			&cli.StringFlag{Name: "start", Usage: "First row, inclusive"},
			&cli.StringFlag{Name: "stop", Usage: "Last row, exclusive"},
			&cli.StringSliceFlag{Name: "split", Usage: "Split point; repeat for more partitions"},
			&cli.StringSliceFlag{Name: "column", Usage: "Return only family or family:qualifier"},
			&cli.IntFlag{Name: "caching", Usage: "Rows fetched per page"},
			formatFlag,
		},
		Action: func(c *cli.Context) error {
			f, err := getFormatter(c)
			if err != nil {
				return err
			}
			return withRuntime(c, func(rt *cliapp.Runtime) error {
				rows, err := rt.Scan(c.Context, cliapp.ScanOptions{
					Table:   c.String("table"),
					Start:   c.String("start"),
					Stop:    c.String("stop"),
					Splits:  c.StringSlice("split"),
					Columns: c.StringSlice("column"),
					Caching: c.Int("caching"),
				})
				if err != nil {
					return err
				}
				return f.WriteRows(os.Stdout, rows)
			})
		},
	}
}

func incrCommand() *cli.Command {
	return &cli.Command{
		Name:      "incr",
		Usage:     "Bulk increment a counter column",
		ArgsUsage: "[key...]",
		Flags: []cli.Flag{
			tableFlag,
			partitionsFlag,
			keysFileFlag,
			&cli.StringFlag{Name: "column", Required: true, Usage: "Counter column as family:qualifier"},
			&cli.Int64Flag{Name: "by", Value: 1, Usage: "Amount to add"},
			formatFlag,
		},
		Action: func(c *cli.Context) error {
			f, err := getFormatter(c)
			if err != nil {
				return err
			}
			keys, err := readKeys(c)
			if err != nil {
				return err
			}
			return withRuntime(c, func(rt *cliapp.Runtime) error {
				summary, err := rt.Incr(c.Context, c.String("table"), c.String("column"), c.Int64("by"), keys, c.Int("partitions"))
				if err != nil {
					return err
				}
				return f.WriteSummary(os.Stdout, summary)
			})
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Bulk delete whole rows",
		ArgsUsage: "[key...]",
		Flags: []cli.Flag{
			tableFlag,
			partitionsFlag,
			keysFileFlag,
			formatFlag,
		},
		Action: func(c *cli.Context) error {
			f, err := getFormatter(c)
			if err != nil {
				return err
			}
			keys, err := readKeys(c)
			if err != nil {
				return err
			}
			return withRuntime(c, func(rt *cliapp.Runtime) error {
				summary, err := rt.Delete(c.Context, c.String("table"), keys, c.Int("partitions"))
				if err != nil {
					return err
				}
				return f.WriteSummary(os.Stdout, summary)
			})
		},
	}
}
