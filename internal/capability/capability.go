// Package capability enumerates the suite modules a tenant can be
// granted. Control-plane modules are typed as such and can never leak
// into a tenant's module set.
package capability

import (
	"sort"
	"sync"
)

// Scope classifies where a module is allowed to run.
type Scope string

const (
	// ScopeSuite modules run inside a tenant installation.
	ScopeSuite Scope = "suite"
	// ScopeControlPlane modules belong to the operator side only.
	ScopeControlPlane Scope = "control_plane"
)

// Capability is a registrable suite module.
type Capability struct {
	Code        string
	Name        string
	Scope       Scope
	Description string
}

// Registry is a process-wide capability catalog.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]Capability
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Capability)}
}

// Register adds or replaces a capability by code.
func (r *Registry) Register(c Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[c.Code] = c
}

// Get returns the capability and whether it exists.
func (r *Registry) Get(code string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[code]
	return c, ok
}

// TenantModules returns every suite-scoped capability, sorted by code.
// Control-plane modules are excluded unconditionally.
func (r *Registry) TenantModules() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Capability, 0, len(r.byID))
	for _, c := range r.byID {
		if c.Scope != ScopeSuite {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// FilterTenantModules keeps only codes that resolve to suite-scoped
// capabilities. Unknown codes are dropped.
func (r *Registry) FilterTenantModules(codes []string) []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Capability, 0, len(codes))
	for _, code := range codes {
		c, ok := r.byID[code]
		if !ok || c.Scope != ScopeSuite {
			continue
		}
		out = append(out, c)
	}
	return out
}

// DefaultRegistry returns the catalog shipped with the suite.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, c := range []Capability{
		{Code: "accounting", Name: "Accounting", Scope: ScopeSuite, Description: "General ledger, invoicing and expenses"},
		{Code: "crm", Name: "CRM", Scope: ScopeSuite, Description: "Leads, deals and customer records"},
		{Code: "hrm", Name: "HRM", Scope: ScopeSuite, Description: "Employees, attendance and payroll"},
		{Code: "inventory", Name: "Inventory", Scope: ScopeSuite, Description: "Stock, warehouses and transfers"},
		{Code: "pos", Name: "Point of Sale", Scope: ScopeSuite, Description: "Retail checkout"},
		{Code: "projects", Name: "Projects", Scope: ScopeSuite, Description: "Tasks, timesheets and billing"},
		{Code: "tenancy", Name: "Tenant Lifecycle", Scope: ScopeControlPlane, Description: "Tenant provisioning and subscriptions"},
		{Code: "saasadmin", Name: "Operator Console", Scope: ScopeControlPlane, Description: "Operator administration"},
	} {
		r.Register(c)
	}
	return r
}
