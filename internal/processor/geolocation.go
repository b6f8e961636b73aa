package processor

import (
	"context"
	"fmt"
	"time"

	"rollcall/internal/apperr"
	"rollcall/internal/dto"
	"rollcall/internal/geo"
	"rollcall/internal/model"
)

// System defaults applied when the event's settings leave them unset.
const (
	DefaultGeofenceRadiusMeters    = 100.0
	DefaultAccuracyThresholdMeters = 100.0
)

type GeoProcessor struct {
	accuracyThreshold float64
}

func NewGeoProcessor(accuracyThresholdMeters float64) *GeoProcessor {
	if accuracyThresholdMeters <= 0 {
		accuracyThresholdMeters = DefaultAccuracyThresholdMeters
	}
	return &GeoProcessor{accuracyThreshold: accuracyThresholdMeters}
}

func (p *GeoProcessor) Process(ctx context.Context, req *dto.CheckInRequest, event *model.EventContext, now time.Time) (*model.AttendanceRecord, error) {
	if req.Location == nil {
		return nil, apperr.Validation("location is required for geolocation check-in")
	}
	if req.LocationAccuracy > p.accuracyThreshold {
		return nil, apperr.Location(apperr.CodeAccuracyLow,
			fmt.Sprintf("reported accuracy %.0fm exceeds the %.0fm threshold",
				req.LocationAccuracy, p.accuracyThreshold))
	}
	if event.Location == nil {
		return nil, apperr.Validation("event has no coordinates to verify against")
	}

	radius := event.Settings.GeofenceRadiusMeters
	if radius <= 0 {
		radius = DefaultGeofenceRadiusMeters
	}

	distance := geo.DistanceMeters(
		req.Location.Lat, req.Location.Lon,
		event.Location.Lat, event.Location.Lon,
	)
	if distance > radius {
		return nil, apperr.Location(apperr.CodeLocationTooFar,
			fmt.Sprintf("you are %.0fm from the event, geofence is %.0fm", distance, radius))
	}

	rec := newDraft(req, event, now)
	rec.CheckInLocation = req.Location
	rec.LocationAccuracy = req.LocationAccuracy
	return rec, nil
}
