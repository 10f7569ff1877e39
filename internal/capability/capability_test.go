package capability

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTenantModulesExcludesControlPlane(t *testing.T) {
	registry := DefaultRegistry()

	modules := registry.TenantModules()
	require.NotEmpty(t, modules)
	for _, m := range modules {
		require.Equal(t, ScopeSuite, m.Scope, "module %s", m.Code)
		require.NotEqual(t, "tenancy", m.Code)
		require.NotEqual(t, "saasadmin", m.Code)
	}
}

func TestFilterTenantModulesDropsUnknownAndControlPlane(t *testing.T) {
	registry := DefaultRegistry()

	filtered := registry.FilterTenantModules([]string{"accounting", "tenancy", "nope", "pos"})
	codes := make([]string, 0, len(filtered))
	for _, c := range filtered {
		codes = append(codes, c.Code)
	}
	require.Equal(t, []string{"accounting", "pos"}, codes)
}

func TestRegisterReplacesByCode(t *testing.T) {
	registry := NewRegistry()
	registry.Register(Capability{Code: "crm", Name: "CRM", Scope: ScopeSuite})
	registry.Register(Capability{Code: "crm", Name: "CRM v2", Scope: ScopeSuite})

	c, ok := registry.Get("crm")
	require.True(t, ok)
	require.Equal(t, "CRM v2", c.Name)
	require.Len(t, registry.TenantModules(), 1)
}
