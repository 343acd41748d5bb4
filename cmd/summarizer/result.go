package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"story-summary-ai/internal/infrastructure/persistence/redis"
)

func newResultCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "result <story-name>",
		Short: "Print the last stored summary of a story",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := redis.NewClient(&c.cfg.Cache.Redis)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			res, err := redis.NewResultStore(client).Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s completed %s (%d batches)\n\n%s\n",
				res.RunID, res.CompletedAt.Format("2006-01-02 15:04:05"), res.BatchesProcessed, res.Text)
			return nil
		},
	}
}
