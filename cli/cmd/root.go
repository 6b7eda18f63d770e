package cmd

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:          "lume",
		Short:        "lume",
		SilenceUsage: true,
		Long:         `Tooling for Lume source files: formatting, token dumps, and syntax tree dumps.`,
	}

	lineLength uint32
	indentArms bool
	configPath string
)

// Execute executes the root command.
func Execute() error {
	rootCmd.PersistentFlags().Uint32VarP(&lineLength, "line-length", "l", 0, "line length budget; overrides the config file")
	rootCmd.PersistentFlags().BoolVar(&indentArms, "indent-arms", false, "always put match/switch arm bodies on their own line")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a .lumefmt.yaml options file")
	return rootCmd.Execute()
}

// ioError marks failures reading or writing files, distinguishing them
// from syntax errors in the exit code.
type ioError struct {
	err error
}

func (e ioError) Error() string { return e.err.Error() }
func (e ioError) Unwrap() error { return e.err }

// ExitCode maps an error from Execute to the process exit code: 1 for
// parse errors, 2 for I/O errors.
func ExitCode(err error) int {
	var io ioError
	if errors.As(err, &io) {
		return 2
	}
	return 1
}
