// Package identity models the authenticated principal returned by the
// donation API. The three roles are distinct types so that role specific
// fields only exist where they are meaningful.
package identity

// Role identifies the kind of principal.
type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "superadmin"
)

// Status is the activation state of an administrator account.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Account holds the fields shared by every role.
type Account struct {
	ID    string
	Name  string
	Email string
}

// Identity is implemented only by Donor, Admin and SuperAdmin.
type Identity interface {
	Subject() Account
	Role() Role
	sealed()
}

// Donor is an ordinary registered user.
type Donor struct {
	Account
	BloodType string
}

// Admin manages the feature areas granted by its capability map.
type Admin struct {
	Account
	Status Status
}

// SuperAdmin holds every capability and manages other admins.
type SuperAdmin struct {
	Account
	Status Status
}

func (d Donor) Subject() Account { return d.Account }
func (d Donor) Role() Role       { return RoleUser }
func (Donor) sealed()            {}

func (a Admin) Subject() Account { return a.Account }
func (a Admin) Role() Role       { return RoleAdmin }
func (Admin) sealed()            {}

func (s SuperAdmin) Subject() Account { return s.Account }
func (s SuperAdmin) Role() Role       { return RoleSuperAdmin }
func (SuperAdmin) sealed()            {}

// IsAdministrator reports whether id is an admin or a superadmin.
func IsAdministrator(id Identity) bool {
	switch id.(type) {
	case Admin, SuperAdmin:
		return true
	}
	return false
}

// IsSuperAdmin reports whether id is a superadmin.
func IsSuperAdmin(id Identity) bool {
	_, ok := id.(SuperAdmin)
	return ok
}

// IsActive reports whether id may act. Donors carry no status and are
// always active; a nil identity is not.
func IsActive(id Identity) bool {
	switch v := id.(type) {
	case Donor:
		return true
	case Admin:
		return v.Status != StatusInactive
	case SuperAdmin:
		return v.Status != StatusInactive
	}
	return false
}
