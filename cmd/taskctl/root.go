package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"task-client/app"
	"task-client/config"
)

// cli carries what the commands share. Tests swap lookup and the writers.
type cli struct {
	out    io.Writer
	errOut io.Writer
	lookup func(string) (string, bool)
	now    func() time.Time

	jsonOutput bool
	verbose    bool

	cfg  config.Config
	core *app.App
}

// flag name to the environment setting it overrides
var flagEnv = map[string]string{
	"api-url":  "TASKS_API_URL",
	"timeout":  "TASKS_API_TIMEOUT",
	"token":    "TASKS_API_TOKEN",
	"backend":  "TASKS_BACKEND",
	"redis":    "REDIS_CONNECTION_STRING",
	"shared":   "REDIS_CACHE",
	"due-soon": "DUE_SOON_DAYS",
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "taskctl",
		Short:         "Read and change tasks through the task cache",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("api-url", "", "Task service base URL (TASKS_API_URL)")
	root.PersistentFlags().String("timeout", "", "Request timeout, e.g. 10s (TASKS_API_TIMEOUT)")
	root.PersistentFlags().String("token", "", "Static bearer token (TASKS_API_TOKEN)")
	root.PersistentFlags().String("backend", "", "Remote backend: http or table (TASKS_BACKEND)")
	root.PersistentFlags().String("redis", "", "Redis connection string (REDIS_CONNECTION_STRING)")
	root.PersistentFlags().String("shared", "", "Keep the cache in Redis: true or false (REDIS_CACHE)")
	root.PersistentFlags().String("due-soon", "", "Due-soon horizon in days (DUE_SOON_DAYS)")
	root.PersistentFlags().BoolVar(&c.jsonOutput, "json", false, "Print JSON instead of a table")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable debug logging")

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return c.start(cmd)
	}
	root.PersistentPostRunE = func(*cobra.Command, []string) error {
		return c.stop()
	}

	root.AddCommand(
		c.listCmd(),
		c.getCmd(),
		c.createCmd(),
		c.updateCmd(),
		c.deleteCmd(),
		c.completeCmd(),
		c.startCmd(),
		c.statusCmd(),
		c.priorityCmd(),
	)
	return root
}

// Execute runs the root command
func Execute(version string) error {
	c := &cli{out: os.Stdout, errOut: os.Stderr, lookup: os.LookupEnv, now: time.Now}
	root := newRootCmd(c)
	root.Version = version
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		// PersistentPostRunE is skipped when a command fails
		_ = c.stop()
		return err
	}
	return nil
}

func (c *cli) start(cmd *cobra.Command) error {
	overrides := make(map[string]string)
	for name, env := range flagEnv {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			overrides[env] = f.Value.String()
		}
	}
	lookup := func(name string) (string, bool) {
		if v, ok := overrides[name]; ok {
			return v, true
		}
		return c.lookup(name)
	}
	cfg, err := config.Load(lookup)
	if err != nil {
		return err
	}
	c.cfg = cfg

	logger := log.New()
	logger.SetOutput(c.errOut)
	logger.SetLevel(log.WarnLevel)
	if cfg.Debug || c.verbose {
		logger.SetLevel(log.DebugLevel)
	}

	core, err := app.New(c.context(cmd), cfg, logger)
	if err != nil {
		return err
	}
	c.core = core
	return nil
}

func (c *cli) stop() error {
	if c.core == nil {
		return nil
	}
	core := c.core
	c.core = nil
	return core.Close()
}

func (c *cli) context(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
