package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/eigerco/toboggan/internal/config"
	"github.com/eigerco/toboggan/pkg/db"
	"github.com/eigerco/toboggan/pkg/db/mergeop"
	"github.com/eigerco/toboggan/pkg/log"
)

const usage = `usage: toboggan [flags] <command> [args]

commands:
  put   TREE KEY VALUE
  get   TREE KEY
  merge TREE KEY OPERAND
  scan  TREE
  clear TREE

With metrics enabled the store metrics are printed to stderr on exit.

flags:
`

var errUsage = errors.New("invalid usage")

// main runs a single command against a store.
// go run ./cmd/toboggan -backend bolt -path ./data put beasts meow cat
func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("toboggan", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}

	configPath := fs.String("config", "", "YAML config file")
	backend := fs.String("backend", "", "storage backend: memory, pebble, bolt or badger")
	path := fs.String("path", "", "base directory of the store")
	logLevel := fs.String("log-level", "", "log level, overrides the config file")
	operator := fs.String("op", "concat", "merge operator: concat, replace, add or delete-on-empty")
	hexOut := fs.Bool("hex", false, "print keys and values hex encoded")
	metrics := fs.Bool("metrics", false, "print store metrics to stderr on exit")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
	}
	if *backend != "" {
		cfg.Backend = config.Backend(*backend)
	}
	if *path != "" {
		cfg.Path = *path
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *metrics {
		cfg.Metrics = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	logOpts, err := cfg.LogOptions()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	logOpts.Output = stderr
	log.Init(logOpts)

	registry := prometheus.NewRegistry()
	store, closer, err := config.OpenStore(cfg, registry)
	if err != nil {
		log.CLI.Error().Err(err).Str("backend", string(cfg.Backend)).Msg("failed to open store")
		return 1
	}
	defer func() {
		if err := closer.Close(); err != nil {
			log.CLI.Error().Err(err).Msg("failed to close store")
		}
		if cfg.Metrics {
			if err := writeMetrics(stderr, registry); err != nil {
				log.CLI.Error().Err(err).Msg("failed to write metrics")
			}
		}
	}()

	cmd := command{
		store:    store,
		out:      stdout,
		hex:      *hexOut,
		operator: *operator,
	}
	if err := cmd.exec(fs.Args()); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(stderr, err)
			fs.Usage()
			return 2
		}
		log.CLI.Error().Err(err).Msg("command failed")
		return 1
	}
	return 0
}

type command struct {
	store    db.Store[db.Tree]
	out      io.Writer
	hex      bool
	operator string
}

func (c command) exec(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: missing command or tree", errUsage)
	}
	name, tree := args[0], []byte(args[1])
	args = args[2:]

	expect := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("%w: %s takes %d arguments after the tree", errUsage, name, n)
		}
		return nil
	}

	switch name {
	case "put":
		if err := expect(2); err != nil {
			return err
		}
		return c.withTree(tree, func(t db.Tree) error {
			if err := t.Insert([]byte(args[0]), []byte(args[1])); err != nil {
				return err
			}
			return t.Flush()
		})
	case "get":
		if err := expect(1); err != nil {
			return err
		}
		return c.withTree(tree, func(t db.Tree) error {
			value, found, err := t.Get([]byte(args[0]))
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("key %q not found", args[0])
			}
			fmt.Fprintln(c.out, c.format(value))
			return nil
		})
	case "merge":
		if err := expect(2); err != nil {
			return err
		}
		op, err := mergeop.ByName(c.operator)
		if err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		operand, err := c.operand(args[1])
		if err != nil {
			return err
		}
		return c.withTree(tree, func(t db.Tree) error {
			t.SetMergeOperator(op)
			if err := t.Merge([]byte(args[0]), operand); err != nil {
				return err
			}
			return t.Flush()
		})
	case "scan":
		if err := expect(0); err != nil {
			return err
		}
		return c.withTree(tree, func(t db.Tree) error {
			for p, err := range db.All(t.Iter()) {
				if err != nil {
					return err
				}
				fmt.Fprintf(c.out, "%s\t%s\n", c.format(p.Key), c.format(p.Value))
			}
			return nil
		})
	case "clear":
		if err := expect(0); err != nil {
			return err
		}
		return c.withTree(tree, func(t db.Tree) error {
			if err := t.Clear(); err != nil {
				return err
			}
			return t.Flush()
		})
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, name)
	}
}

func (c command) withTree(name []byte, fn func(t db.Tree) error) error {
	t, err := c.store.OpenTree(name)
	if err != nil {
		return fmt.Errorf("open tree %q: %w", name, err)
	}
	return fn(t)
}

// operand encodes the command line operand. The add operator takes a decimal
// number.
func (c command) operand(arg string) ([]byte, error) {
	if c.operator != "add" {
		return []byte(arg), nil
	}
	n, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: add operand %q is not an unsigned integer", errUsage, arg)
	}
	return mergeop.EncodeCounter(n), nil
}

// writeMetrics dumps every gathered metric family in the text exposition format.
func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

func (c command) format(b []byte) string {
	if c.hex {
		return hex.EncodeToString(b)
	}
	if c.operator == "add" && len(b) == mergeop.CounterSize {
		return fmt.Sprint(mergeop.DecodeCounter(b))
	}
	return string(b)
}
