package cmd

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lume-lang/lume/lexer"
)

var tokensCmd = &cobra.Command{
	Use:   "tokens file",
	Short: "Dump the token stream of a Lume source file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			_ = cmd.Help()
			return errors.New("need to specify argument <file>")
		}

		source, err := os.ReadFile(args[0])
		if err != nil {
			return ioError{err: err}
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		lex := lexer.New(string(source))
		for {
			token, ok := lex.Next()
			if !ok {
				break
			}
			fmt.Fprintf(w, "%s\t%d:%d\t%d\t%q\n",
				token.Type,
				token.Span.Start.Line, token.Span.Start.Column,
				token.Indent,
				token.Slice(string(source)))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(tokensCmd)
}
