package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/researchaccelerator-hub/catalog-harvester/client"
	"github.com/researchaccelerator-hub/catalog-harvester/common"
	"github.com/researchaccelerator-hub/catalog-harvester/config"
	"github.com/researchaccelerator-hub/catalog-harvester/crawl"
	"github.com/researchaccelerator-hub/catalog-harvester/state"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("Harvester failed")
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	v := config.New()

	root := &cobra.Command{
		Use:   "harvester",
		Short: "Resumable harvester for paginated DSpace catalogs",
		Long: `harvester walks the result pages of a catalog search, extracts every
article it has not stored yet and keeps its progress in a checkpoint, so an
interrupted run resumes where it stopped.

Only one harvester may run against a given set of storage files at a time;
concurrent runs overwrite each other's records.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "optional YAML config file")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "", "log format (console, json); default depends on the terminal")
	_ = v.BindPFlag("log.level", root.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("log.format", root.PersistentFlags().Lookup("log-format"))

	load := func() (*config.Config, error) {
		_ = godotenv.Load()
		cfg, err := config.Load(v, cfgFile)
		if err != nil {
			return nil, err
		}
		if err := common.SetupLogging(cfg.Log.Level, cfg.Log.Format, os.Stderr); err != nil {
			return nil, err
		}
		log.Logger = log.With().Str("crawl_id", common.GenerateCrawlID()).Logger()
		return cfg, nil
	}

	root.AddCommand(newRunCmd(v, load))
	root.AddCommand(newStatusCmd(load))
	root.AddCommand(newReprocessCmd(load))
	return root
}

type configLoader func() (*config.Config, error)

func newRunCmd(v *viper.Viper, load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Reprocess failed articles, then crawl from the checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return withPipeline(cfg, cmd, func(p *crawl.Pipeline, _ *state.Stores) error {
				_, err := p.Run(cmd.Context())
				return err
			})
		},
	}
	cmd.Flags().Int("max-pages", 0, "stop after this many pages (0 = no limit)")
	cmd.Flags().Int("batch-size", crawl.DefaultBatchSize, "records buffered before each flush")
	_ = v.BindPFlag("crawler.max_pages", cmd.Flags().Lookup("max-pages"))
	_ = v.BindPFlag("crawler.batch_size", cmd.Flags().Lookup("batch-size"))
	return cmd
}

func newStatusCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the checkpoint, stored records and error queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return withPipeline(cfg, cmd, func(p *crawl.Pipeline, _ *state.Stores) error {
				st, err := p.Status(cmd.Context())
				if err != nil {
					return err
				}
				crawl.WriteStatus(cmd.OutOrStdout(), st)
				return nil
			})
		},
	}
}

func newReprocessCmd(load configLoader) *cobra.Command {
	var urlsFile string
	cmd := &cobra.Command{
		Use:   "reprocess",
		Short: "Retry the URLs in the error queue without crawling",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return withPipeline(cfg, cmd, func(p *crawl.Pipeline, stores *state.Stores) error {
				if urlsFile != "" {
					if err := enqueueFromFile(cmd.Context(), stores.Errors, urlsFile); err != nil {
						return err
					}
				}
				_, err := p.Reprocess(cmd.Context())
				return err
			})
		},
	}
	cmd.Flags().StringVar(&urlsFile, "urls-file", "", "append the URLs in this file to the error queue first")
	return cmd
}

// withPipeline opens the stores and renderer for one command.
func withPipeline(cfg *config.Config, cmd *cobra.Command, fn func(*crawl.Pipeline, *state.Stores) error) error {
	stores, err := state.NewStores(cfg.StateConfig())
	if err != nil {
		return fmt.Errorf("open stores: %w", err)
	}
	defer func() {
		if cerr := stores.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("Error closing stores")
		}
	}()

	renderer, err := client.NewDSpaceClient(cfg.RendererConfig(), nil)
	if err != nil {
		return err
	}

	var metrics *crawl.Metrics
	if cfg.Metrics.Textfile != "" {
		metrics = crawl.NewMetrics()
	}

	p := crawl.NewPipeline(renderer, stores, cfg.PipelineOptions(), metrics, cmd.OutOrStdout())
	err = fn(p, stores)
	if errors.Is(err, crawl.ErrPersistence) {
		return fmt.Errorf("records may be incomplete, rerun once storage is writable: %w", err)
	}
	return err
}

func enqueueFromFile(ctx context.Context, queue state.ErrorQueue, path string) error {
	urls, err := common.ReadURLsFromFile(path)
	if err != nil {
		return err
	}
	for _, u := range urls {
		if err := queue.Append(ctx, u); err != nil {
			return fmt.Errorf("queue %s: %w", u, err)
		}
	}
	log.Info().Int("urls", len(urls)).Str("file", path).Msg("URLs added to error queue")
	return nil
}
