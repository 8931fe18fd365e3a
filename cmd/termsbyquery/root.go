package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	sirenjoin "github.com/SentiOne/siren-join"
	"github.com/SentiOne/siren-join/codec"
)

// globalFlags are shared by every command.
type globalFlags struct {
	config   string
	output   string
	logLevel string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:   "termsbyquery",
		Short: "Collect the distinct terms of a field over matching documents",
		Long: `termsbyquery loads a cluster described by a YAML file and runs
terms-by-query requests against it.

Examples:
  termsbyquery terms --config cluster.yaml --index tweets --field user
  termsbyquery terms --config cluster.yaml --index tweets --field user \
      --query '{"term": {"lang": "en"}}' --encoding bloom --expected-terms 100000
  termsbyquery cache stats --config cluster.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := cmd.PersistentFlags()
	pf.StringVarP(&g.config, "config", "c", "cluster.yaml", "path to the cluster configuration")
	pf.StringVarP(&g.output, "output", "o", "json", "output format (json or yaml)")
	pf.StringVar(&g.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	cmd.AddCommand(newTermsCmd(g), newCacheCmd(g))
	return cmd
}

func (g *globalFlags) codec() (codec.Codec, error) {
	c, ok := codec.ByName(g.output)
	if !ok {
		return nil, fmt.Errorf("unknown output format [%s]", g.output)
	}
	return c, nil
}

func (g *globalFlags) level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(g.logLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level [%s]: %w", g.logLevel, err)
	}
	return l, nil
}

// withCluster opens the configured cluster for the duration of fn.
func (g *globalFlags) withCluster(cmd *cobra.Command, fn func(ctx context.Context, c *sirenjoin.Cluster, out codec.Codec) error) error {
	out, err := g.codec()
	if err != nil {
		return err
	}
	level, err := g.level()
	if err != nil {
		return err
	}
	fc, err := loadConfig(g.config)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := openCluster(ctx, fc, level)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(ctx, c, out)
}

func write(w io.Writer, c codec.Codec, v any) error {
	b, err := c.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	if len(b) > 0 && b[len(b)-1] != '\n' {
		_, err = io.WriteString(w, "\n")
	}
	return err
}
