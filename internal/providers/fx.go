package providers

import (
	"go.uber.org/fx"

	"github.com/opencorehq/tenantcore/internal/providers/email"
	"github.com/opencorehq/tenantcore/internal/providers/pdf"
	"github.com/opencorehq/tenantcore/internal/providers/slack"
)

var Module = fx.Module("providers",
	email.Module,
	pdf.Module,
	slack.Module,
)
