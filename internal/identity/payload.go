package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidIdentity is returned when a wire identity fails validation.
var ErrInvalidIdentity = errors.New("identity: invalid payload")

var validate = validator.New()

// FlexID accepts identifiers encoded either as JSON strings or numbers.
type FlexID string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexID) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	if _, err := strconv.ParseFloat(raw, 64); err != nil {
		return fmt.Errorf("identity: id %q is neither string nor number", raw)
	}
	*f = FlexID(raw)
	return nil
}

// Payload is the JSON shape of an identity on the wire.
type Payload struct {
	ID        FlexID `json:"id,omitempty" validate:"required,max=128"`
	LegacyID  FlexID `json:"_id,omitempty"`
	Name      string `json:"name" validate:"required,max=200"`
	Email     string `json:"email" validate:"required,email"`
	Role      string `json:"role" validate:"required,oneof=user admin superadmin"`
	Status    string `json:"status,omitempty" validate:"omitempty,oneof=active inactive"`
	BloodType string `json:"bloodType,omitempty" validate:"omitempty,max=8"`
}

// Decode validates p and converts it into the role specific Identity.
func Decode(p Payload) (Identity, error) {
	if p.ID == "" {
		p.ID = p.LegacyID
	}
	p.Email = strings.TrimSpace(p.Email)
	p.Role = strings.ToLower(strings.TrimSpace(p.Role))
	p.Status = strings.ToLower(strings.TrimSpace(p.Status))
	if err := validate.Struct(p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}

	account := Account{ID: string(p.ID), Name: p.Name, Email: p.Email}
	status := StatusActive
	if p.Status != "" {
		status = Status(p.Status)
	}
	switch Role(p.Role) {
	case RoleUser:
		return Donor{Account: account, BloodType: p.BloodType}, nil
	case RoleAdmin:
		return Admin{Account: account, Status: status}, nil
	case RoleSuperAdmin:
		return SuperAdmin{Account: account, Status: status}, nil
	}
	return nil, fmt.Errorf("%w: role %q", ErrInvalidIdentity, p.Role)
}

// Encode converts id back into its wire form. A nil identity yields nil.
func Encode(id Identity) *Payload {
	if id == nil {
		return nil
	}
	account := id.Subject()
	p := &Payload{
		ID:    FlexID(account.ID),
		Name:  account.Name,
		Email: account.Email,
		Role:  string(id.Role()),
	}
	switch v := id.(type) {
	case Donor:
		p.BloodType = v.BloodType
	case Admin:
		p.Status = string(v.Status)
	case SuperAdmin:
		p.Status = string(v.Status)
	}
	return p
}
