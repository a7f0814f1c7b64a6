package app

import (
	"github.com/donorportal/donorportal/internal/guard"
	"github.com/donorportal/donorportal/internal/rbac"
)

// Protected locations of the portal.
var (
	DashboardRoute = guard.Route{Name: "dashboard", Path: "/dashboard", Requirement: guard.RequireUser}
	SlotsRoute     = guard.Route{Name: "campaign-slots", Path: "/campaigns/slots", Requirement: guard.RequireUser}

	AdminRoute        = guard.Route{Name: "admin", Path: "/admin", Requirement: guard.RequireAdmin}
	InventoryRoute    = guard.Route{Name: "inventory", Path: "/admin/inventory", Requirement: guard.RequireAdmin, Capability: rbac.CanManageInventory}
	CampaignsRoute    = guard.Route{Name: "campaigns", Path: "/admin/campaigns", Requirement: guard.RequireAdmin, Capability: rbac.CanManageCampaigns}
	BloodBanksRoute   = guard.Route{Name: "blood-banks", Path: "/admin/blood-banks", Requirement: guard.RequireAdmin, Capability: rbac.CanManageBloodBanks}
	DonationsRoute    = guard.Route{Name: "donations", Path: "/admin/donations", Requirement: guard.RequireAdmin, Capability: rbac.CanManageDonations}
	AppointmentsRoute = guard.Route{Name: "appointments", Path: "/admin/appointments", Requirement: guard.RequireAdmin, Capability: rbac.CanManageAppointments}

	PermissionsRoute = guard.Route{Name: "permissions", Path: "/admin/permissions", Requirement: guard.RequireSuperAdmin}
)

type adminSection struct {
	Route       guard.Route
	Label       string
	Description string
}

var adminSections = []adminSection{
	{InventoryRoute, "Blood inventory", "Stock levels per blood type and bank."},
	{CampaignsRoute, "Campaigns", "Donation campaigns and their schedules."},
	{BloodBanksRoute, "Blood banks", "Registered blood banks and their contacts."},
	{DonationsRoute, "Donations", "Recorded donations and screening results."},
	{AppointmentsRoute, "Appointments", "Donor reservations for campaign slots."},
}

// ProtectedRoutes lists every guarded location.
func ProtectedRoutes() []guard.Route {
	routes := []guard.Route{DashboardRoute, SlotsRoute, AdminRoute}
	for _, s := range adminSections {
		routes = append(routes, s.Route)
	}
	return append(routes, PermissionsRoute)
}
