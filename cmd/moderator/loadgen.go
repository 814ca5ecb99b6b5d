package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v2"

	"github.com/whisper/comment-moderator/internal/loadgen"
	"github.com/whisper/comment-moderator/internal/messaging"
)

var loadgenCmd = &cli.Command{
	Name:  "loadgen",
	Usage: "send synthetic comments to a running moderator and report decision latency",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "nats-url",
			Value:   messaging.DefaultNATSConfig().URL,
			EnvVars: []string{"NATS_URL"},
		},
		&cli.IntFlag{
			Name:  "comments",
			Usage: "number of comments to send",
			Value: loadgen.DefaultConfig().Comments,
		},
		&cli.IntFlag{
			Name:  "users",
			Usage: "distinct comment authors",
			Value: loadgen.DefaultConfig().Users,
		},
		&cli.Float64Flag{
			Name:  "edit-ratio",
			Usage: "share of comments that are edited afterwards",
			Value: loadgen.DefaultConfig().EditRatio,
		},
		&cli.Float64Flag{
			Name:  "rate",
			Usage: "comments per second, 0 is unlimited",
			Value: loadgen.DefaultConfig().Rate,
		},
		&cli.IntFlag{
			Name:  "concurrency",
			Usage: "requests in flight",
			Value: loadgen.DefaultConfig().Concurrency,
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "per request timeout",
			Value: loadgen.DefaultConfig().Timeout,
		},
	},
	Action: func(cctx *cli.Context) error {
		natsCfg := messaging.DefaultNATSConfig()
		natsCfg.URL = cctx.String("nats-url")
		natsCfg.Name = "comment-moderator-loadgen"
		natsCfg.MaxReconnects = 0
		bus, err := messaging.NewNATSClient(natsCfg, nil)
		if err != nil {
			return err
		}
		defer bus.Close()

		cfg := loadgen.DefaultConfig()
		cfg.Comments = cctx.Int("comments")
		cfg.Users = cctx.Int("users")
		cfg.EditRatio = cctx.Float64("edit-ratio")
		cfg.Rate = cctx.Float64("rate")
		cfg.Concurrency = cctx.Int("concurrency")
		cfg.Timeout = cctx.Duration("timeout")

		ctx, stop := signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Sending %d comments from %d users to %s (rate=%v/s, concurrency=%d)\n",
			cfg.Comments, cfg.Users, natsCfg.URL, cfg.Rate, cfg.Concurrency)

		coll := loadgen.NewCollector()
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					fmt.Printf("  decisions=%d errors=%d\n", coll.Sent(), coll.ErrorCount())
				}
			}
		}()

		err = loadgen.NewGenerator(bus, cfg, coll).Run(ctx)
		close(done)
		coll.Report(os.Stdout)
		return err
	},
}
