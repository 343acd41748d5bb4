package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"story-summary-ai/internal/application/summary"
	"story-summary-ai/internal/domain/entity"
	"story-summary-ai/internal/infrastructure/eino/callback"
	"story-summary-ai/internal/wire"
	"story-summary-ai/pkg/logger"
	"story-summary-ai/pkg/metrics"
	"story-summary-ai/pkg/tracer"
)

type runOptions struct {
	storyDir     string
	name         string
	startChapter int
	gather       int
	maxChapters  int
	interval     int
	quota        int
	resume       bool
	noSave       bool
	timeout      time.Duration
	provider     string
	outputDir    string
	language     string
	quiet        bool
}

func newRunCmd(c *cli) *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [story-name]",
		Short: "Summarize one story directory",
		Long: `Reads the story's .txt chapter files in name order, summarizes them in batches
and writes the final summary to <output_dir>/<story>_summary.txt.

The story is given either as a name under summary.story_root or with --story-dir.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 && o.name == "" {
				o.name = args[0]
			}
			return runSummary(cmd.Context(), c, o, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVarP(&o.storyDir, "story-dir", "d", "", "directory holding the chapter .txt files")
	f.StringVarP(&o.name, "name", "n", "", "story name, defaults to the directory name")
	f.IntVar(&o.startChapter, "start-chapter", 0, "number of chapter files to skip")
	f.IntVarP(&o.gather, "gather", "g", 0, "chapters per batch (default summary.gather_chapters)")
	f.IntVarP(&o.maxChapters, "max-chapters", "m", 0, "upper bound of chapters to summarize (default summary.max_chapters)")
	f.IntVar(&o.interval, "interval", 0, "chapters between consolidations (default summary.big_summary_interval)")
	f.IntVar(&o.quota, "quota", 0, "initial requests per minute (default summary.quota.per_minute)")
	f.BoolVar(&o.resume, "resume", false, "continue from the last saved checkpoint")
	f.BoolVar(&o.noSave, "no-save", false, "do not write the summary file")
	f.DurationVar(&o.timeout, "timeout", 0, "overall run timeout (default derived from time_per_chapter)")
	f.StringVar(&o.provider, "provider", "", "LLM provider name from llm.providers")
	f.StringVarP(&o.outputDir, "output-dir", "o", "", "override summary.output_dir")
	f.StringVar(&o.language, "language", "", "override summary.language")
	f.BoolVarP(&o.quiet, "quiet", "q", false, "do not print per-batch progress")
	return cmd
}

// apply 将命令行覆盖写入配置
func (o *runOptions) apply(c *cli) error {
	cfg := c.cfg
	if o.provider != "" {
		if _, ok := cfg.LLM.Providers[o.provider]; !ok {
			return fmt.Errorf("unknown provider %q", o.provider)
		}
		cfg.LLM.DefaultProvider = o.provider
	}
	if o.quota > 0 {
		cfg.Summary.Quota.PerMinute = o.quota
	}
	if o.outputDir != "" {
		cfg.Summary.OutputDir = o.outputDir
	}
	if o.language != "" {
		cfg.Summary.Language = o.language
	}
	if o.name == "" && o.storyDir == "" {
		return fmt.Errorf("a story name or --story-dir is required")
	}
	return nil
}

func runSummary(parent context.Context, c *cli, o *runOptions, out io.Writer) error {
	if err := o.apply(c); err != nil {
		return err
	}
	cfg := c.cfg

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName: "summarizer",
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
		Enabled:     cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn(ctx, "failed to shutdown tracer", "error", err.Error())
		}
	}()

	app, cleanup, err := wire.InitializeSummarizer(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	// 初始化 Eino 全局 callbacks（指标/追踪/用量）
	callback.Init(app.Usage)

	g, gctx := errgroup.WithContext(ctx)
	runCtx, finish := context.WithCancel(gctx)
	defer finish()

	if cfg.Observability.Metrics.Enabled {
		g.Go(func() error {
			return metrics.Serve(runCtx, cfg.Observability.Metrics.Port, cfg.Observability.Metrics.Path)
		})
	}

	var result *entity.SummaryResult
	g.Go(func() error {
		defer finish()
		res, err := app.Service.Summarize(runCtx, summary.Request{
			Story:        o.name,
			StoryDir:     o.storyDir,
			StartChapter: o.startChapter,
			Resume:       o.resume,

			GatherChapters:     o.gather,
			MaxChapters:        o.maxChapters,
			BigSummaryInterval: o.interval,
			Timeout:            o.timeout,
			SkipSave:           o.noSave,
			OnProgress: func(ev entity.ProgressEvent) {
				if !o.quiet {
					printProgress(out, ev)
				}
			},
		})
		result = res
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	printResult(out, result, app.Usage.Totals())
	return nil
}
