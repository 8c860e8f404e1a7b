package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/hanoiair/hanoiair/internal/airquality"
	"github.com/hanoiair/hanoiair/internal/api/models"
	"github.com/hanoiair/hanoiair/internal/api/response"
)

// AQIHandler handles air quality index endpoints. Gateway failures are absorbed
// by the service, so these handlers only fail on invalid input or
// misconfiguration.
type AQIHandler struct {
	service   *airquality.Service
	trendDays int
	logger    zerolog.Logger
}

// NewAQIHandler creates a new AQIHandler. trendDays is the default trend span.
func NewAQIHandler(service *airquality.Service, trendDays int, logger zerolog.Logger) *AQIHandler {
	if trendDays <= 0 || trendDays > airquality.MaxTrendDays {
		trendDays = airquality.DefaultTrendDays
	}
	return &AQIHandler{service: service, trendDays: trendDays, logger: logger}
}

// Current handles GET /v1/aqi/current.
func (h *AQIHandler) Current(w http.ResponseWriter, r *http.Request) {
	filter, errs := parseLocationFilter(r)
	if len(errs) > 0 {
		response.BadRequest(w, r, "invalid location", errs)
		return
	}

	result, err := h.service.CurrentAQI(r.Context(), filter)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	respond(w, r, toProvenance(result.Provenance), toAQI(result))
}

// Latest handles GET /v1/aqi/latest.
func (h *AQIHandler) Latest(w http.ResponseWriter, r *http.Request) {
	results, err := h.service.LatestAll(r.Context())
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	list := models.AQIList{
		Items:      make([]models.AQI, 0, len(results)),
		Count:      len(results),
		Provenance: models.ProvenanceLive,
	}
	for _, res := range results {
		list.Items = append(list.Items, toAQI(res))
		if res.Provenance == airquality.ProvenanceSynthetic {
			list.Provenance = models.ProvenanceSynthetic
		}
	}
	respond(w, r, list.Provenance, list)
}

// Hourly handles GET /v1/aqi/hourly.
func (h *AQIHandler) Hourly(w http.ResponseWriter, r *http.Request) {
	filter, errs := parseLocationFilter(r)
	hours, spanErrs := parseSpan(r, "hours", airquality.DefaultHourlySpan, airquality.MaxHourlySpan)
	if errs = append(errs, spanErrs...); len(errs) > 0 {
		response.BadRequest(w, r, "invalid query parameters", errs)
		return
	}

	result, err := h.service.Hourly(r.Context(), filter, hours)
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	points := make([]models.AQI, 0, len(result.Points))
	for _, p := range result.Points {
		points = append(points, toAQI(p))
	}
	respond(w, r, toProvenance(result.Provenance), models.Hourly{
		Location:   toLocation(result.Location),
		Hours:      result.Hours,
		Points:     points,
		Provenance: toProvenance(result.Provenance),
	})
}

// Trend handles GET /v1/aqi/trend.
func (h *AQIHandler) Trend(w http.ResponseWriter, r *http.Request) {
	filter, errs := parseLocationFilter(r)
	days, spanErrs := parseSpan(r, "days", h.trendDays, airquality.MaxTrendDays)
	if errs = append(errs, spanErrs...); len(errs) > 0 {
		response.BadRequest(w, r, "invalid query parameters", errs)
		return
	}

	result, err := h.service.Trend(r.Context(), filter, days)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	respond(w, r, toProvenance(result.Provenance), toTrend(result))
}

// Summary handles GET /v1/aqi/summary.
func (h *AQIHandler) Summary(w http.ResponseWriter, r *http.Request) {
	filter, errs := parseLocationFilter(r)
	if len(errs) > 0 {
		response.BadRequest(w, r, "invalid location", errs)
		return
	}

	summary, err := h.service.Summary(r.Context(), filter)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	respond(w, r, toProvenance(summary.Provenance), toSummary(summary))
}

// ComputeIndex handles GET /v1/aqi/index.
func (h *AQIHandler) ComputeIndex(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pollutant := airquality.Pollutant(q.Get("pollutant"))
	rawConcentration := q.Get("concentration")

	var errs []models.FieldError
	if pollutant == "" {
		errs = append(errs, models.FieldError{Field: "pollutant", Message: "is required", Code: codeRequired})
	}
	var concentration *float64
	if rawConcentration != "" {
		v, err := strconv.ParseFloat(rawConcentration, 64)
		if err != nil {
			errs = append(errs, models.FieldError{Field: "concentration", Message: "must be a number", Code: codeInvalid})
		} else {
			concentration = &v
		}
	}
	if len(errs) > 0 {
		response.BadRequest(w, r, "invalid query parameters", errs)
		return
	}

	index, err := h.service.ComputeIndex(pollutant, concentration)
	if errors.Is(err, airquality.ErrUnknownPollutant) {
		response.BadRequest(w, r, "unknown pollutant", []models.FieldError{
			{Field: "pollutant", Message: "must be one of the supported pollutants", Code: codeInvalid},
		})
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	result := models.IndexComputation{
		Pollutant:     string(pollutant),
		Concentration: concentration,
		AQI:           index,
	}
	if index != nil {
		result.Category = string(airquality.CategoryFor(*index))
	}
	response.JSON(w, r, http.StatusOK, result)
}

func respond(w http.ResponseWriter, r *http.Request, provenance models.Provenance, data interface{}) {
	response.Tagged(w, r, provenance, data)
}

func (h *AQIHandler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("air quality request failed")
	response.InternalError(w, r, "the air quality index could not be computed")
}
