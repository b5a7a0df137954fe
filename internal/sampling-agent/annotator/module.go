package annotator

import (
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/fx"

	"github.com/sgl-project/sampling-agent/pkg/afero"
	"github.com/sgl-project/sampling-agent/pkg/logging"
)

type annotatorParams struct {
	fx.In

	AnotherLogger logging.Interface `name:"another_log"`
	Fs            afero.Fs
}

var Module = fx.Provide(
	func(v *viper.Viper, params annotatorParams) (*Annotator, error) {
		config, err := NewAnnotatorConfig(
			WithViper(v),
			WithAnotherLog(params.AnotherLogger),
		)
		if err != nil {
			return nil, fmt.Errorf("error creating loss scale config: %+v", err)
		}
		if err = config.Validate(); err != nil {
			return nil, fmt.Errorf("error validating loss scale config: %+v", err)
		}
		return NewAnnotator(config, params.Fs), nil
	})
