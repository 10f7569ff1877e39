package provisioner

import (
	"go.uber.org/fx"

	"github.com/opencorehq/tenantcore/internal/config"
	"github.com/opencorehq/tenantcore/internal/provisioner/admin"
	"github.com/opencorehq/tenantcore/internal/provisioner/repository"
	"github.com/opencorehq/tenantcore/internal/provisioner/secret"
	"github.com/opencorehq/tenantcore/internal/provisioner/service"
	"github.com/opencorehq/tenantcore/internal/provisioner/tenantschema"
)

// Module wires tenant database provisioning.
var Module = fx.Module("provisioner",
	fx.Provide(repository.Provide),
	fx.Provide(admin.New),
	fx.Provide(tenantschema.NewMigrator),
	fx.Provide(tenantschema.NewSeeder),
	fx.Provide(provideCipher),
	fx.Provide(service.NewService),
)

func provideCipher(cfg config.Config) (*secret.Cipher, error) {
	return secret.NewCipher(cfg.CredentialKey)
}
