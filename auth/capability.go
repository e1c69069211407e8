// Package auth holds the caller identity and the role to capability table.
package auth

import "sort"

type Role string

const (
	RoleSuperadmin Role = "superadmin"
	RoleOperations Role = "operations"
	RoleFounder    Role = "founder"
	RoleAdmin      Role = "admin"
	RoleFinance    Role = "finance"
	RoleShopper    Role = "shopper"
)

type Capability string

const (
	CapSalesCreate          Capability = "sales.create"
	CapSalesEditCommercials Capability = "sales.edit_commercials"
	CapSalesComplete        Capability = "sales.complete"
	CapSalesView            Capability = "sales.view"
	CapImportsRecord        Capability = "imports.record"
	CapViewClaimable        Capability = "allocation.view_claimable"
	CapClaim                Capability = "allocation.claim"
	CapViewPool             Capability = "allocation.view_pool"
	CapDismiss              Capability = "allocation.dismiss"
	CapRestore              Capability = "sales.restore"
	CapLink                 Capability = "reconciliation.link"
	CapSyncPayments         Capability = "reconciliation.sync_payments"
	CapRecalculateMargins   Capability = "margins.recalculate"
	CapViewRuns             Capability = "sync.view_runs"
)

// capabilityTable is the single source of who may do what.
var capabilityTable = map[Capability][]Role{
	CapSalesCreate:          {RoleSuperadmin, RoleOperations, RoleFounder, RoleAdmin, RoleShopper},
	CapSalesEditCommercials: {RoleSuperadmin, RoleOperations, RoleFounder, RoleAdmin, RoleFinance},
	CapSalesComplete:        {RoleSuperadmin, RoleOperations, RoleFounder, RoleAdmin, RoleFinance},
	CapSalesView:            {RoleSuperadmin, RoleOperations, RoleFounder, RoleAdmin, RoleFinance, RoleShopper},
	CapImportsRecord:        {RoleSuperadmin, RoleOperations, RoleAdmin},
	CapViewClaimable:        {RoleSuperadmin, RoleOperations, RoleFounder, RoleShopper},
	CapClaim:                {RoleSuperadmin, RoleOperations, RoleFounder, RoleShopper},
	CapViewPool:             {RoleSuperadmin, RoleOperations, RoleFounder, RoleAdmin},
	CapDismiss:              {RoleSuperadmin, RoleOperations, RoleFounder},
	CapRestore:              {RoleSuperadmin, RoleAdmin},
	CapLink:                 {RoleSuperadmin, RoleOperations, RoleFounder},
	CapSyncPayments:         {RoleSuperadmin, RoleAdmin, RoleFinance},
	CapRecalculateMargins:   {RoleSuperadmin, RoleAdmin},
	CapViewRuns:             {RoleSuperadmin, RoleAdmin, RoleFinance, RoleOperations},
}

var allowed = buildIndex(capabilityTable)

func buildIndex(table map[Capability][]Role) map[Role]map[Capability]bool {
	idx := map[Role]map[Capability]bool{}
	for c, roles := range table {
		for _, r := range roles {
			if idx[r] == nil {
				idx[r] = map[Capability]bool{}
			}
			idx[r][c] = true
		}
	}
	return idx
}

// Allowed reports whether role holds capability c. Unknown roles hold nothing.
func Allowed(role Role, c Capability) bool {
	return allowed[role][c]
}

// Capabilities lists the capabilities of role, sorted.
func Capabilities(role Role) []Capability {
	out := make([]Capability, 0, len(allowed[role]))
	for c := range allowed[role] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func KnownRole(role Role) bool {
	switch role {
	case RoleSuperadmin, RoleOperations, RoleFounder, RoleAdmin, RoleFinance, RoleShopper:
		return true
	}
	return false
}
