package audit

import (
	"github.com/samknelson/sirius-sub007/internal/audit/repository"
	"github.com/samknelson/sirius-sub007/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
