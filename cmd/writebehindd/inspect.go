package main

import (
	"fmt"

	"github.com/spf13/cobra"

	wb "github.com/unkn0wn-root/writebehind"
	"github.com/unkn0wn-root/writebehind/config"
)

// inspectCmd resolves keys through the same cache-then-durable path the
// library client uses.
func inspectCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect KEY...",
		Short: "Print type and remaining TTL of keys",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			d, err := wire(ctx, cfg)
			if err != nil {
				return err
			}
			defer d.close()

			opts := d.options(cfg, nil)
			opts.ExpireAsync = false
			if opts.TypeCache, err = newTypeCache(d, cfg.TypeCache); err != nil {
				return err
			}
			c, err := wb.New(opts)
			if err != nil {
				if opts.TypeCache != nil {
					_ = opts.TypeCache.Close(ctx)
				}
				return err
			}
			defer c.Close(ctx)

			out := cmd.OutOrStdout()
			for _, key := range args {
				t, err := c.ResolveType(ctx, key)
				if err != nil {
					return fmt.Errorf("%s: %w", key, err)
				}
				pttl, err := c.PTTL(ctx, key)
				if err != nil {
					return fmt.Errorf("%s: %w", key, err)
				}
				fmt.Fprintf(out, "%s\t%s\t%d\n", key, t, pttl)
			}
			return nil
		},
	}
}
