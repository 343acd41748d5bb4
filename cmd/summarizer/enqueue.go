package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"story-summary-ai/internal/infrastructure/messaging"
	"story-summary-ai/internal/infrastructure/persistence/redis"
)

func newEnqueueCmd(c *cli) *cobra.Command {
	job := &messaging.SummaryJobMessage{}
	cmd := &cobra.Command{
		Use:   "enqueue <story-name>",
		Short: "Queue a summary job for summary-worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job.Story = args[0]

			client, err := redis.NewClient(&c.cfg.Cache.Redis)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			producer := messaging.NewProducer(client.Redis(), int64(c.cfg.Messaging.RedisStream.MaxLen))
			streamID, err := producer.PublishSummaryJob(cmd.Context(), job)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued job %s (%s)\n", job.JobID, streamID)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&job.StoryDir, "story-dir", "d", "", "directory holding the chapter .txt files")
	f.IntVar(&job.StartChapter, "start-chapter", 0, "number of chapter files to skip")
	f.BoolVar(&job.Resume, "resume", false, "continue from the last saved checkpoint")
	f.IntVarP(&job.GatherChapters, "gather", "g", 0, "chapters per batch")
	f.IntVarP(&job.MaxChapters, "max-chapters", "m", 0, "upper bound of chapters to summarize")
	f.IntVar(&job.BigSummaryInterval, "interval", 0, "chapters between consolidations")
	f.StringVar(&job.IdempotencyKey, "idempotency-key", "", "optional key recorded in message metadata")
	return cmd
}
