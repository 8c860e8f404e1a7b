package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/hanoiair/hanoiair/internal/airquality"
	"github.com/hanoiair/hanoiair/internal/api/models"
)

// Field error codes.
const (
	codeRequired   = "REQUIRED"
	codeInvalid    = "INVALID"
	codeOutOfRange = "OUT_OF_RANGE"
)

// parseLocationFilter reads either location_key or a lat/lng pair.
func parseLocationFilter(r *http.Request) (airquality.LocationFilter, []models.FieldError) {
	q := r.URL.Query()
	rawKey, rawLat, rawLng := q.Get("location_key"), q.Get("lat"), q.Get("lng")

	if rawKey != "" {
		key, err := strconv.ParseInt(rawKey, 10, 64)
		if err != nil || key <= 0 {
			return airquality.LocationFilter{}, []models.FieldError{
				{Field: "location_key", Message: "must be a positive integer", Code: codeInvalid},
			}
		}
		return airquality.ByKey(key), nil
	}

	if rawLat == "" && rawLng == "" {
		return airquality.LocationFilter{}, []models.FieldError{
			{Field: "location_key", Message: "location_key or lat and lng are required", Code: codeRequired},
		}
	}

	var errs []models.FieldError
	lat, latErrs := parseCoordinate("lat", rawLat, 90)
	errs = append(errs, latErrs...)
	lng, lngErrs := parseCoordinate("lng", rawLng, 180)
	errs = append(errs, lngErrs...)
	if len(errs) > 0 {
		return airquality.LocationFilter{}, errs
	}
	return airquality.Near(lat, lng), nil
}

func parseCoordinate(field, raw string, limit float64) (float64, []models.FieldError) {
	if raw == "" {
		return 0, []models.FieldError{{Field: field, Message: "is required", Code: codeRequired}}
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, []models.FieldError{{Field: field, Message: "must be a number", Code: codeInvalid}}
	}
	if v < -limit || v > limit {
		return 0, []models.FieldError{{
			Field:   field,
			Message: fmt.Sprintf("must be between %g and %g", -limit, limit),
			Code:    codeOutOfRange,
		}}
	}
	return v, nil
}

// parseSpan reads an optional integer in [1, maxValue], returning def when the
// parameter is absent.
func parseSpan(r *http.Request, field string, def, maxValue int) (int, []models.FieldError) {
	raw := r.URL.Query().Get(field)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, []models.FieldError{{Field: field, Message: "must be an integer", Code: codeInvalid}}
	}
	if v < 1 || v > maxValue {
		return 0, []models.FieldError{{
			Field:   field,
			Message: fmt.Sprintf("must be between 1 and %d", maxValue),
			Code:    codeOutOfRange,
		}}
	}
	return v, nil
}
