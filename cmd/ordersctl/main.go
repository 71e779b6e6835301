package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ariefcatur/go-order-engine/internal/config"
)

type ctl struct {
	cmd *cobra.Command
}

// instance carries the loaded configuration to every subcommand.
type instance struct {
	cfg config.Config
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

func preRun(in *instance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := config.InitLogger(cfg); err != nil {
			return err
		}
		in.cfg = cfg
		return nil
	}
}

func newCLI() *ctl {
	in := &instance{}
	root := &cobra.Command{
		Use:           "ordersctl",
		Short:         "Operate the order engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentPreRunE = preRun(in)

	root.AddCommand(migrateCommands(in))
	root.AddCommand(sweepCommand(in))
	root.AddCommand(errorsCommands(in))
	return &ctl{cmd: root}
}

func (c *ctl) execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := c.cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()
	newCLI().execute()
}
