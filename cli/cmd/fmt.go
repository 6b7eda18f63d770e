package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lume-lang/lume/format"
)

var (
	writeInPlace bool

	fmtCmd = &cobra.Command{
		Use:   "fmt file...",
		Short: "Write the canonical form of Lume source files to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				_ = cmd.Help()
				return errors.New("need at least one file")
			}

			options, err := loadOptions()
			if err != nil {
				return err
			}

			logger := logrus.StandardLogger()
			for _, path := range args {
				source, err := os.ReadFile(path)
				if err != nil {
					return ioError{err: err}
				}

				result, err := format.Format(string(source), options)
				if err != nil {
					return fmt.Errorf("%s:%w", path, err)
				}

				if writeInPlace {
					if result != string(source) {
						if err := os.WriteFile(path, []byte(result), 0o644); err != nil {
							return ioError{err: err}
						}
						logger.WithField("file", path).Info("formatted")
					}
					continue
				}
				fmt.Print(result)
			}
			return nil
		},
	}
)

func init() {
	fmtCmd.Flags().BoolVarP(&writeInPlace, "write", "w", false, "rewrite files in place instead of printing to stdout")
	rootCmd.AddCommand(fmtCmd)
}
