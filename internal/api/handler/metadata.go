package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hanoiair/hanoiair/internal/airquality"
	"github.com/hanoiair/hanoiair/internal/api/models"
	"github.com/hanoiair/hanoiair/internal/api/response"
)

// MetadataHandler handles metadata endpoints.
type MetadataHandler struct {
	service *airquality.Service
}

// NewMetadataHandler creates a new MetadataHandler.
func NewMetadataHandler(service *airquality.Service) *MetadataHandler {
	return &MetadataHandler{service: service}
}

// ListLocations handles GET /v1/metadata/locations.
func (h *MetadataHandler) ListLocations(w http.ResponseWriter, r *http.Request) {
	locations := h.service.Locations(r.Context())

	items := make([]models.Location, 0, len(locations))
	for _, loc := range locations {
		items = append(items, toLocation(loc))
	}
	response.JSON(w, r, http.StatusOK, models.PagedLocations{
		Items: items,
		Meta:  models.PagedResponseMeta{Limit: len(items), Total: len(items)},
	})
}

// GetLocation handles GET /v1/metadata/locations/{locationKey}.
func (h *MetadataHandler) GetLocation(w http.ResponseWriter, r *http.Request) {
	key, err := strconv.ParseInt(chi.URLParam(r, "locationKey"), 10, 64)
	if err != nil || key <= 0 {
		response.BadRequest(w, r, "invalid location key", []models.FieldError{
			{Field: "locationKey", Message: "must be a positive integer", Code: codeInvalid},
		})
		return
	}

	for _, loc := range h.service.Locations(r.Context()) {
		if loc.Key == key {
			response.JSON(w, r, http.StatusOK, toLocation(loc))
			return
		}
	}
	response.NotFound(w, r, airquality.ErrLocationNotFound.Error())
}

// GetEnums handles GET /v1/metadata/enums - get enum values used by the API.
func (h *MetadataHandler) GetEnums(w http.ResponseWriter, r *http.Request) {
	enums := models.Enums{
		Provenances: []models.Provenance{models.ProvenanceLive, models.ProvenanceSynthetic},
		Directions: []string{
			string(airquality.DirectionRising),
			string(airquality.DirectionFalling),
			string(airquality.DirectionFlat),
			string(airquality.DirectionInsufficientData),
		},
		DataQualities: []string{
			string(airquality.DataQualityGood),
			string(airquality.DataQualityLimited),
			string(airquality.DataQualityNoData),
		},
	}
	for _, c := range airquality.AllCategories() {
		enums.Categories = append(enums.Categories, string(c))
	}
	for _, p := range h.service.Pollutants() {
		enums.Pollutants = append(enums.Pollutants, string(p))
	}
	response.JSON(w, r, http.StatusOK, enums)
}
