package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/fx"

	"github.com/sgl-project/sampling-agent/pkg/configutils"
	"github.com/sgl-project/sampling-agent/pkg/constants"
)

// flagBinder is implemented by agents whose command line flags override
// configuration keys.
type flagBinder interface {
	BindFlags(v *viper.Viper, flags *pflag.FlagSet)
}

func configProvider(cli *cobra.Command, module AgentModule) fx.Option {
	return fx.Provide(func() (*viper.Viper, error) {
		return newViper(cli.Flags(), module)
	})
}

func newViper(flags *pflag.FlagSet, module AgentModule) (*viper.Viper, error) {
	v, err := configutils.NewViperFromFile(constants.AgentAppName, flags, configFilePath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", module.Name(), err)
	}
	if binder, ok := module.(flagBinder); ok {
		binder.BindFlags(v, flags)
	}
	return v, nil
}

// setIfChanged copies an explicitly set flag into key. NewViperFromFile has
// already Set every key, so flag bindings would otherwise lose to the file.
func setIfChanged(v *viper.Viper, flags *pflag.FlagSet, name, key string) {
	f := flags.Lookup(name)
	if f == nil || !f.Changed {
		return
	}
	switch f.Value.Type() {
	case "int":
		n, _ := flags.GetInt(name)
		v.Set(key, n)
	case "bool":
		b, _ := flags.GetBool(name)
		v.Set(key, b)
	default:
		v.Set(key, f.Value.String())
	}
}
