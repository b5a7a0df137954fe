package afero

import (
	"go.uber.org/fx"
)

// Module provides the operating system file system.
var Module fx.Option = fx.Provide(
	func() Fs { return NewOsFs() },
)
