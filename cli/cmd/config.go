package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/lume-lang/lume/format"
)

const defaultConfigFile = ".lumefmt.yaml"

// loadOptions resolves formatter options: the config file first (an
// explicit --config path, or .lumefmt.yaml in the working directory),
// then flag overrides.
func loadOptions() (format.Options, error) {
	options := format.DefaultOptions()

	path := configPath
	explicit := path != ""
	if !explicit {
		path = defaultConfigFile
	}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &options); err != nil {
			logrus.StandardLogger().WithField("config", path).Error("malformed config file")
			return options, ioError{err: err}
		}
		if options.LineLength == 0 {
			options.LineLength = format.DefaultOptions().LineLength
		}
	case explicit:
		// An explicitly requested config file must exist
		return options, ioError{err: err}
	}

	if lineLength != 0 {
		options.LineLength = lineLength
	}
	if indentArms {
		options.AlwaysIndentArms = true
	}
	return options, nil
}
