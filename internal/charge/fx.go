package charge

import (
	"github.com/samknelson/sirius-sub007/internal/charge/plugin"
	"github.com/samknelson/sirius-sub007/internal/charge/plugins/employercontrib"
	"github.com/samknelson/sirius-sub007/internal/charge/plugins/hoursdues"
	"github.com/samknelson/sirius-sub007/internal/charge/plugins/paymentalloc"
	"github.com/samknelson/sirius-sub007/internal/charge/plugins/stewardstipend"
	"github.com/samknelson/sirius-sub007/internal/charge/repository"
	"github.com/samknelson/sirius-sub007/internal/charge/service"
	"github.com/samknelson/sirius-sub007/internal/clock"
	"go.uber.org/fx"
)

var Module = fx.Module("charge",
	fx.Provide(
		plugin.NewRegistry,
		repository.Provide,
		service.NewService,
	),
	fx.Invoke(registerPlugins),
)

// registerPlugins installs the built-in charge plugins. Registration order is
// execution order within a trigger.
func registerPlugins(reg *plugin.Registry, clk clock.Clock) error {
	builtins := []plugin.Plugin{
		hoursdues.New(),
		employercontrib.New(),
		paymentalloc.New(clk),
		stewardstipend.New(clk),
	}
	for _, p := range builtins {
		if err := reg.Register(p); err != nil {
			return err
		}
	}
	return nil
}
