package rbac

import "sort"

// Capability is a named boolean grant controlling one admin feature area.
type Capability string

// Capability keys understood by the API.
const (
	CanManageInventory    Capability = "can_manage_inventory"
	CanManageCampaigns    Capability = "can_manage_campaigns"
	CanManageBloodBanks   Capability = "can_manage_blood_banks"
	CanManageDonations    Capability = "can_manage_donations"
	CanManageAppointments Capability = "can_manage_appointments"
)

var known = map[Capability]struct{}{
	CanManageInventory:    {},
	CanManageCampaigns:    {},
	CanManageBloodBanks:   {},
	CanManageDonations:    {},
	CanManageAppointments: {},
}

// All returns every known capability in a stable order.
func All() []Capability {
	out := make([]Capability, 0, len(known))
	for c := range known {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Valid reports whether c is a known capability key.
func (c Capability) Valid() bool {
	_, ok := known[c]
	return ok
}

func (c Capability) String() string { return string(c) }

// CapabilitySet is the capability map of one admin.
type CapabilitySet map[Capability]bool

// Has reports whether c is granted. Missing keys are not granted.
func (s CapabilitySet) Has(c Capability) bool {
	return s[c]
}

// Wire converts the set to the API's JSON mapping.
func (s CapabilitySet) Wire() map[string]bool {
	out := make(map[string]bool, len(s))
	for k, v := range s {
		out[string(k)] = v
	}
	return out
}

// FromWire converts the API mapping, keeping unknown keys so they are not
// silently dropped when the set is written back.
func FromWire(m map[string]bool) CapabilitySet {
	out := make(CapabilitySet, len(m))
	for k, v := range m {
		out[Capability(k)] = v
	}
	return out
}
