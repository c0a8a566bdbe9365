package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/chat2k/pkg/config"
	"github.com/go-go-golems/chat2k/pkg/logging"
)

// app carries the settings resolved before any subcommand runs.
type app struct {
	configPath string
	settings   config.Settings
}

func newRootCommand() *cobra.Command {
	a := &app{settings: config.Default()}
	root := &cobra.Command{
		Use:           "chat2k",
		Short:         "A small real-time chat server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.resolve(cmd)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "YAML config file")
	pf.String("log-level", a.settings.Log.Level, "Log level (trace, debug, info, warn, error)")
	pf.String("log-format", a.settings.Log.Format, "Log format (auto, console, json)")
	pf.Bool("with-caller", false, "Add caller information to log lines")
	pf.String("store-backend", a.settings.Store.Backend, "Message store backend (sqlite, redis, memory)")
	pf.String("store-dsn", a.settings.Store.DSN, "SQLite file or DSN for the message store")
	pf.String("users-dsn", "", "SQLite file or DSN for accounts (defaults to --store-dsn)")
	pf.String("redis-addr", a.settings.Redis.Addr, "Redis address host:port")

	root.AddCommand(newServeCommand(a), newRegisterUserCommand(a), newHistoryCommand(a))
	return root
}

// resolve loads the config file, then applies every flag that was set
// explicitly on the command line.
func (a *app) resolve(cmd *cobra.Command) error {
	s, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	fl := flagReader{f: cmd.Flags()}
	fl.str("log-level", &s.Log.Level)
	fl.str("log-format", &s.Log.Format)
	fl.boolean("with-caller", &s.Log.WithCaller)
	fl.str("store-backend", &s.Store.Backend)
	fl.str("store-dsn", &s.Store.DSN)
	fl.str("users-dsn", &s.Store.UsersDSN)
	fl.str("redis-addr", &s.Redis.Addr)
	if fl.err != nil {
		return errors.Wrap(fl.err, "read flags")
	}
	if err := s.Validate(); err != nil {
		return errors.Wrap(err, "invalid settings")
	}
	if err := logging.InitLogger(s.Log); err != nil {
		return err
	}
	a.settings = s
	return nil
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
