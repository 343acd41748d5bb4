package main

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"story-summary-ai/internal/config"
	"story-summary-ai/pkg/logger"
)

// cli 子命令共享的全局选项与已加载配置
type cli struct {
	configPath string
	envFile    string
	logLevel   string

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "summarizer",
		Short:         "Incrementally summarize a story from its chapter files",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load()
		},
	}

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (default configs/config.yaml if present)")
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "dotenv file loaded before the config")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override observability.logging.level")

	root.AddCommand(newRunCmd(c), newEnqueueCmd(c), newResultCmd(c))
	return root
}

// load 依次加载 .env、配置文件并初始化日志
func (c *cli) load() error {
	if c.envFile != "" {
		if err := godotenv.Load(c.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.Observability.Logging.Level = c.logLevel
	}
	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)
	c.cfg = cfg
	return nil
}
