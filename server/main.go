package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v2"
	"github.com/zhazhalaila/AsyncDKG/config"
	"github.com/zhazhalaila/AsyncDKG/keygen/keys"
	"github.com/zhazhalaila/AsyncDKG/log"
	"github.com/zhazhalaila/AsyncDKG/verify"
)

var (
	configFlag = &cli.StringFlag{
		Name:     "config",
		Usage:    "node configuration file (TOML)",
		Required: true,
	}
	keysFlag = &cli.StringFlag{
		Name:     "keys",
		Usage:    "key file of this party, written by keygen",
		Required: true,
	}
)

func main() {
	app := &cli.App{
		Name:     "adkg-server",
		Usage:    "run the ABA and ACSS sessions of one party",
		Commands: []*cli.Command{runCmd},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Printf("error: %+v\n", err)
		os.Exit(1)
	}
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "start the node and run the configured sessions until interrupted",
	Flags: []cli.Flag{configFlag, keysFlag},

	Action: func(cctx *cli.Context) error {
		cfg, err := config.Load(cctx.String(configFlag.Name))
		if err != nil {
			return err
		}
		k, err := keys.Load(cctx.String(keysFlag.Name), verify.DefaultSuite())
		if err != nil {
			return err
		}
		level, _ := log.ParseLevel(cfg.Log.Level)
		logger := log.New(nil, level, cfg.Log.JSON).With("party", cfg.ID)

		nd, err := newNode(cfg, k, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := nd.close(); err != nil {
				logger.Warnw("shutting down", "err", err)
			}
		}()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		go func() {
			select {
			case <-nd.completed:
				logger.Infow("all sessions complete, serving late messages until interrupted")
			case <-ctx.Done():
			}
		}()
		return nd.run(ctx)
	},
}
