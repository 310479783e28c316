// Command sage runs the retrieval-augmented question answering engine.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/sage/pkg/config"
	"github.com/kadirpekel/sage/pkg/logger"
)

var version = "dev"

// CLI is the top-level command line interface.
type CLI struct {
	Config    string `help:"Path to configuration file." short:"c" default:"sage.yaml" env:"SAGE_CONFIG"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info" env:"LOG_LEVEL"`
	LogFormat string `help:"Log format (text, json)." default:"text" env:"LOG_FORMAT"`

	Serve    ServeCmd    `cmd:"" default:"1" help:"Start the HTTP server."`
	Validate ValidateCmd `cmd:"" help:"Validate the configuration and exit."`
	Version  VersionCmd  `cmd:"" help:"Print the version."`
}

// ValidateCmd checks the configuration file without starting anything.
type ValidateCmd struct{}

func (cmd *ValidateCmd) Run(cli *CLI) error {
	if _, err := config.Load(cli.Config); err != nil {
		return err
	}
	fmt.Printf("%s: configuration is valid\n", cli.Config)
	return nil
}

// VersionCmd prints the build version.
type VersionCmd struct{}

func (cmd *VersionCmd) Run(cli *CLI) error {
	fmt.Println(version)
	return nil
}

func main() {
	config.LoadDotEnv("")

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("sage"),
		kong.Description("Retrieval-augmented question answering engine"),
		kong.UsageOnError(),
	)

	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger.Init(level, os.Stderr, cli.LogFormat)

	ctx.FatalIfErrorf(ctx.Run(&cli))
}
