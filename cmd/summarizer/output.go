package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"story-summary-ai/internal/application/quota"
	"story-summary-ai/internal/domain/entity"
)

const rule = "==============================================="

func printProgress(w io.Writer, ev entity.ProgressEvent) {
	fmt.Fprintf(w, "[batch %d] chapters=%d files=%d long_summaries=%d\n",
		ev.BatchIndex, ev.ChaptersProcessed, ev.FilesConsumed, len(ev.State.LongSummaries))
	if s := strings.TrimSpace(ev.Summary); s != "" {
		fmt.Fprintf(w, "  %s\n", s)
	}
}

func printResult(w io.Writer, res *entity.SummaryResult, usage quota.UsageTotals) {
	if res == nil {
		return
	}
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "story: %s  run: %s\n", res.Story, res.RunID)
	fmt.Fprintf(w, "batches: %d  chapters: %d  duration: %s\n",
		res.BatchesProcessed, res.ChaptersProcessed, res.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "llm calls: %d (failed %d)  tokens: %d prompt / %d completion\n",
		usage.Calls, usage.FailedCalls, usage.PromptTokens, usage.CompletionTokens)
	if res.OutputPath != "" {
		fmt.Fprintf(w, "written to %s\n", res.OutputPath)
	}
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, res.Text)
}
