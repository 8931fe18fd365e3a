package main

import (
	"context"

	"github.com/spf13/cobra"

	sirenjoin "github.com/SentiOne/siren-join"
	"github.com/SentiOne/siren-join/codec"
)

func newCacheCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Administer the filter join cache",
	}
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear the filter join cache of every node",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withCluster(cmd, func(ctx context.Context, c *sirenjoin.Cluster, out codec.Codec) error {
				res, err := c.ClearCache(ctx)
				if err != nil {
					return err
				}
				return write(cmd.OutOrStdout(), out, res)
			})
		},
	}
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show filter join cache statistics of every node",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withCluster(cmd, func(ctx context.Context, c *sirenjoin.Cluster, out codec.Codec) error {
				res, err := c.CacheStats(ctx)
				if err != nil {
					return err
				}
				return write(cmd.OutOrStdout(), out, res)
			})
		},
	}
	cmd.AddCommand(clearCmd, statsCmd)
	return cmd
}
