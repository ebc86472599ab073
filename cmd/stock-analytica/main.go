package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"

	"stock-analytica/config"
	"stock-analytica/internal/logger"
)

var log = logger.New("main")

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(&serveCmd{}, "")
	commander.Register(&seedCmd{}, "")
	commander.Register(&keygenCmd{}, "")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}

// loadConfig reads .env, then the optional YAML file, and applies the log
// level.
func loadConfig(path string) (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(cfg.LogLevel)
	return cfg, nil
}
