package sampler

import (
	"context"
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/fx"

	"github.com/sgl-project/sampling-agent/pkg/afero"
	"github.com/sgl-project/sampling-agent/pkg/logging"
	"github.com/sgl-project/sampling-agent/pkg/objectstore"
)

type samplerParams struct {
	fx.In

	AnotherLogger logging.Interface `name:"another_log"`
	Fs            afero.Fs
}

var Module = fx.Provide(
	func(v *viper.Viper, params samplerParams) (*SamplingAgent, error) {
		config, err := NewSamplerConfig(
			WithViper(v),
			WithAnotherLog(params.AnotherLogger),
		)
		if err != nil {
			return nil, fmt.Errorf("error creating sampler config: %+v", err)
		}
		if err = config.Validate(); err != nil {
			return nil, fmt.Errorf("error validating sampler config: %+v", err)
		}

		engines, err := NewEngines(config)
		if err != nil {
			return nil, err
		}

		var store *objectstore.Store
		if config.needsObjectStore() {
			store, err = objectstore.New(context.Background(), config.ObjectStore, params.AnotherLogger)
			if err != nil {
				return nil, fmt.Errorf("error creating object storage client: %+v", err)
			}
		}
		return NewSamplingAgent(config, params.Fs, engines, store), nil
	})
