package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	pkgconfig "mailwatcher/pkg/config"
)

// errExit 命令已经打印过错误，只需要非零退出码
var errExit = errors.New("exit 1")

type rootFlags struct {
	configDir string
	env       string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errExit) {
			fmt.Fprintln(os.Stderr, "mailwatcher:", err) //nolint:errcheck
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "mailwatcher",
		Short: "Watch an Exchange mailbox and alert on incident reports",
		Long: `mailwatcher polls one Exchange (EWS) folder for unread mail, asks an
Ollama model whether each message describes an operational incident and
posts an alert to Slack and/or RabbitMQ when it does.

Processed message ids are recorded so each message is handled once.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&flags.configDir, "config-dir", pkgconfig.GetEnv("CONFIG_DIR", "config"), "directory holding base.yaml, <env>.yaml and secrets.env")
	cmd.PersistentFlags().StringVar(&flags.env, "env", pkgconfig.GetConfigEnv(), "config environment (CONFIG_ENV)")

	cmd.AddCommand(newRunCmd(flags))
	cmd.AddCommand(newOnceCmd(flags))
	return cmd
}
