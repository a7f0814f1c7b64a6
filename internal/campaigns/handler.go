package campaigns

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/donorportal/donorportal/internal/platform/httpx"
)

const (
	defaultOpen  = "08:00"
	defaultClose = "16:00"
	defaultStep  = 30
)

// Handler serves the reservation slot listing.
type Handler struct {
	logger    *slog.Logger
	validator *validator.Validate
	location  *time.Location
	now       func() time.Time
}

// NewHandler constructs a Handler. Slot times are interpreted in loc.
func NewHandler(logger *slog.Logger, loc *time.Location) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Handler{logger: logger, validator: validator.New(), location: loc, now: time.Now}
}

// MountRoutes registers GET /slots.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/slots", h.listSlots)
}

type slotQuery struct {
	Date  string `validate:"required,datetime=2006-01-02"`
	Open  string `validate:"required,datetime=15:04"`
	Close string `validate:"required,datetime=15:04"`
	Step  int    `validate:"min=5,max=240"`
}

type slotResponse struct {
	Date  string     `json:"date"`
	Slots []slotJSON `json:"slots"`
}

type slotJSON struct {
	Start     string `json:"start"`
	End       string `json:"end"`
	Available bool   `json:"available"`
}

func (h *Handler) listSlots(w http.ResponseWriter, r *http.Request) {
	q, err := h.parseQuery(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	opensAt, _ := time.ParseInLocation("2006-01-02 15:04", q.Date+" "+q.Open, h.location)
	closesAt, _ := time.ParseInLocation("2006-01-02 15:04", q.Date+" "+q.Close, h.location)
	if !closesAt.After(opensAt) {
		httpx.RespondError(w, fmt.Errorf("%w: close must be after open", httpx.ErrValidation))
		return
	}

	res := slotResponse{Date: q.Date, Slots: []slotJSON{}}
	for _, s := range Slots(opensAt, closesAt, time.Duration(q.Step)*time.Minute, h.now()) {
		res.Slots = append(res.Slots, slotJSON{
			Start:     s.Start.Format("15:04"),
			End:       s.End.Format("15:04"),
			Available: s.Available,
		})
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) parseQuery(r *http.Request) (slotQuery, error) {
	values := r.URL.Query()
	q := slotQuery{
		Date:  values.Get("date"),
		Open:  valueOr(values.Get("open"), defaultOpen),
		Close: valueOr(values.Get("close"), defaultClose),
		Step:  defaultStep,
	}
	if raw := values.Get("step"); raw != "" {
		step, err := strconv.Atoi(raw)
		if err != nil {
			return q, fmt.Errorf("%w: step must be a number of minutes", httpx.ErrValidation)
		}
		q.Step = step
	}
	if err := h.validator.Struct(q); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return q, fmt.Errorf("%w: invalid %s", httpx.ErrValidation, fieldErrs[0].Field())
		}
		return q, fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	return q, nil
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
