package campaigns

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(hhmm string) time.Time {
	t, err := time.ParseInLocation("2006-01-02 15:04", "2026-03-14 "+hhmm, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

func TestSlotsCoverDay(t *testing.T) {
	slots := Slots(at("09:00"), at("10:30"), 30*time.Minute, at("07:00"))
	require.Len(t, slots, 3)
	assert.Equal(t, at("09:00"), slots[0].Start)
	assert.Equal(t, at("10:30"), slots[2].End)
	for _, s := range slots {
		assert.True(t, s.Available)
	}
}

func TestSlotsDropShortTail(t *testing.T) {
	slots := Slots(at("09:00"), at("10:10"), 30*time.Minute, at("07:00"))
	require.Len(t, slots, 2)
	assert.Equal(t, at("10:00"), slots[1].End)
}

func TestSlotsMarkStartedAsUnavailable(t *testing.T) {
	slots := Slots(at("09:00"), at("11:00"), time.Hour, at("09:00"))
	require.Len(t, slots, 2)
	assert.False(t, slots[0].Available, "a slot starting now has started")
	assert.True(t, slots[1].Available)
}

func TestSlotsRejectDegenerateInput(t *testing.T) {
	assert.Nil(t, Slots(at("10:00"), at("09:00"), time.Hour, at("07:00")))
	assert.Nil(t, Slots(at("10:00"), at("10:00"), time.Hour, at("07:00")))
	assert.Nil(t, Slots(at("09:00"), at("10:00"), 0, at("07:00")))
}

func newTestHandler() http.Handler {
	h := NewHandler(nil, time.UTC)
	h.now = func() time.Time { return at("09:15") }
	r := chi.NewRouter()
	r.Route("/campaigns", h.MountRoutes)
	return r
}

func TestListSlotsEndpoint(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/campaigns/slots?date=2026-03-14&open=09:00&close=10:00&step=20", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var res slotResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, "2026-03-14", res.Date)
	assert.Equal(t, []slotJSON{
		{Start: "09:00", End: "09:20", Available: false},
		{Start: "09:20", End: "09:40", Available: true},
		{Start: "09:40", End: "10:00", Available: true},
	}, res.Slots)
}

func TestListSlotsDefaults(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/campaigns/slots?date=2026-03-15", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var res slotResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Len(t, res.Slots, 16)
}

func TestListSlotsValidation(t *testing.T) {
	for _, query := range []string{
		"",
		"date=14-03-2026",
		"date=2026-03-14&open=9am",
		"date=2026-03-14&step=abc",
		"date=2026-03-14&step=1",
		"date=2026-03-14&open=12:00&close=11:00",
	} {
		rr := httptest.NewRecorder()
		newTestHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/campaigns/slots?"+query, nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code, query)
	}
}
