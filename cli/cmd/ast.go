package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/alecthomas/repr"
	"github.com/spf13/cobra"

	"github.com/lume-lang/lume/parser"
)

var astCmd = &cobra.Command{
	Use:   "ast file",
	Short: "Parse a Lume source file and dump its syntax tree arena",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			_ = cmd.Help()
			return errors.New("need to specify argument <file>")
		}

		source, err := os.ReadFile(args[0])
		if err != nil {
			return ioError{err: err}
		}

		ast, err := parser.Parse(string(source))
		if err != nil {
			return fmt.Errorf("%s:%w", args[0], err)
		}

		for i := 0; i < ast.Len(); i++ {
			entry := ast.Entry(parser.AstIndex(i))
			fmt.Printf("%4d %d:%d %s\n",
				i,
				entry.Span.Start.Line, entry.Span.Start.Column,
				repr.String(entry.Node))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(astCmd)
}
