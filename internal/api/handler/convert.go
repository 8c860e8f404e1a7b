package handler

import (
	"strings"

	"github.com/hanoiair/hanoiair/internal/airquality"
	"github.com/hanoiair/hanoiair/internal/api/models"
)

func toProvenance(p airquality.Provenance) models.Provenance {
	return models.Provenance(strings.ToUpper(string(p)))
}

func toLocation(loc airquality.Location) models.Location {
	return models.Location{
		LocationKey: loc.Key,
		Code:        loc.Code,
		Name:        loc.Name,
		District:    loc.District,
		Point:       models.Point{Lat: loc.Latitude, Lon: loc.Longitude},
	}
}

func toAQI(r airquality.AqiResult) models.AQI {
	return models.AQI{
		Location:  toLocation(r.Location),
		Timestamp: models.Timestamp(r.Timestamp),
		AQI:       r.Index,
		Category:  string(r.Category),
		Pollutant: string(r.Pollutant),
		Reading: models.Reading{
			PM25:          r.Reading.PM25,
			PM10:          r.Reading.PM10,
			Temperature:   r.Reading.Temperature,
			Humidity:      r.Reading.Humidity,
			WindSpeed:     r.Reading.WindSpeed,
			WindDirection: r.Reading.WindDirection,
			Pressure:      r.Reading.Pressure,
		},
		Provenance: toProvenance(r.Provenance),
	}
}

func toTrend(t airquality.TrendResult) models.Trend {
	points := make([]models.TrendPoint, 0, len(t.Series.Points))
	for _, p := range t.Series.Points {
		points = append(points, models.TrendPoint{
			Date:        models.Date(p.Date),
			AvgAQI:      p.AvgIndex,
			SampleCount: p.SampleCount,
		})
	}
	return models.Trend{
		Location:      toLocation(t.Location),
		Days:          t.Days,
		Points:        points,
		Direction:     string(t.Series.Direction),
		PercentChange: t.Series.PercentChange,
		AvgAQI:        t.Series.Avg,
		MaxAQI:        t.Series.Max,
		MinAQI:        t.Series.Min,
		TotalSamples:  t.Series.TotalSamples,
		Provenance:    toProvenance(t.Provenance),
	}
}

func toSummary(s airquality.HistorySummary) models.Summary {
	return models.Summary{
		Location:     toLocation(s.Location),
		Days:         s.Days,
		TotalRecords: s.TotalRecords,
		DaysWithData: s.DaysWithData,
		AvgAQI:       s.AvgIndex,
		MinAQI:       s.MinIndex,
		MaxAQI:       s.MaxIndex,
		DataQuality:  string(s.DataQuality),
		Provenance:   toProvenance(s.Provenance),
	}
}
