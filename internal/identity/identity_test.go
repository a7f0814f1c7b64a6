package identity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRoles(t *testing.T) {
	donor, err := Decode(Payload{ID: "u1", Name: "Dana", Email: "dana@example.org", Role: "user", BloodType: "O+"})
	require.NoError(t, err)
	assert.Equal(t, Donor{Account: Account{ID: "u1", Name: "Dana", Email: "dana@example.org"}, BloodType: "O+"}, donor)
	assert.True(t, IsActive(donor))
	assert.False(t, IsAdministrator(donor))

	admin, err := Decode(Payload{ID: "a1", Name: "Ari", Email: "ari@example.org", Role: "admin", Status: "inactive"})
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, admin.Role())
	assert.False(t, IsActive(admin))
	assert.True(t, IsAdministrator(admin))

	super, err := Decode(Payload{ID: "s1", Name: "Sam", Email: "sam@example.org", Role: "SuperAdmin"})
	require.NoError(t, err)
	assert.True(t, IsSuperAdmin(super))
	assert.Equal(t, StatusActive, super.(SuperAdmin).Status)
}

func TestDecodeRejectsInvalidPayloads(t *testing.T) {
	cases := map[string]Payload{
		"missing id":     {Name: "x", Email: "x@example.org", Role: "user"},
		"bad email":      {ID: "1", Name: "x", Email: "nope", Role: "user"},
		"unknown role":   {ID: "1", Name: "x", Email: "x@example.org", Role: "owner"},
		"unknown status": {ID: "1", Name: "x", Email: "x@example.org", Role: "admin", Status: "paused"},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(p)
			assert.ErrorIs(t, err, ErrInvalidIdentity)
		})
	}
}

func TestPayloadAcceptsNumericAndLegacyIDs(t *testing.T) {
	var p Payload
	require.NoError(t, json.Unmarshal([]byte(`{"id":42,"name":"N","email":"n@example.org","role":"user"}`), &p))
	id, err := Decode(p)
	require.NoError(t, err)
	assert.Equal(t, "42", id.Subject().ID)

	p = Payload{}
	require.NoError(t, json.Unmarshal([]byte(`{"_id":"6650aa","name":"N","email":"n@example.org","role":"admin"}`), &p))
	id, err = Decode(p)
	require.NoError(t, err)
	assert.Equal(t, "6650aa", id.Subject().ID)
}

func TestEncodeRoundTripsRoleFields(t *testing.T) {
	admin := Admin{Account: Account{ID: "a1", Name: "Ari", Email: "ari@example.org"}, Status: StatusInactive}
	p := Encode(admin)
	require.NotNil(t, p)
	assert.Equal(t, "inactive", p.Status)
	back, err := Decode(*p)
	require.NoError(t, err)
	assert.Equal(t, admin, back)
	assert.Nil(t, Encode(nil))
}
