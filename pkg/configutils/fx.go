package configutils

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/fx"
)

// ProvideViperFromFile provides a *viper.Viper reading configFilePath, with
// environment overrides under envPrefix and the --debug flag bound to "debug".
func ProvideViperFromFile(envPrefix string, pflags *pflag.FlagSet, configFilePath string) fx.Option {
	return fx.Provide(func() (*viper.Viper, error) {
		return NewViperFromFile(envPrefix, pflags, configFilePath)
	})
}

// NewViperFromFile is the non-fx form of ProvideViperFromFile.
func NewViperFromFile(envPrefix string, pflags *pflag.FlagSet, configFilePath string) (*viper.Viper, error) {
	v := viper.New()

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFilePath == "" {
		return nil, errors.New("no config file provided")
	}

	if pflags != nil {
		if flag := pflags.Lookup("debug"); flag != nil {
			if err := v.BindPFlag("debug", flag); err != nil {
				return nil, fmt.Errorf("can't bind debug flag: %w", err)
			}
		}
	}

	if err := ResolveAndMergeFile(v, configFilePath); err != nil {
		return nil, fmt.Errorf("cannot read config file: %w", err)
	}

	// viper.Unmarshal only consults values it has seen; materialize env
	// overrides for every known key.
	for _, key := range v.AllKeys() {
		v.Set(key, v.Get(key))
	}
	return v, nil
}
