package models

import (
	"time"
)

// PathPoint is one raw buffered position sample of a device.
type PathPoint struct {
	DtTracker time.Time `bson:"dt_tracker" json:"dt_tracker"`
	DeviceID  string    `bson:"device_id" json:"device_id"`
	Lat       float64   `bson:"lat" json:"lat"`
	Lng       float64   `bson:"lng" json:"lng"`
	Speed     float64   `bson:"speed" json:"speed"` // km/h
	Acc       bool      `bson:"acc" json:"acc"`     // ignition on
	FuelLevel *float64  `bson:"fuel_level,omitempty" json:"fuel_level,omitempty"`
}

// Location returns the sample position.
func (p PathPoint) Location() Location {
	return Location{Lat: p.Lat, Lon: p.Lng}
}

// LastPosition is the most recent known position of a device.
type LastPosition struct {
	DeviceID  string    `bson:"device_id" json:"device_id"`
	Lat       float64   `bson:"lat" json:"lat"`
	Lng       float64   `bson:"lng" json:"lng"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// PathPoint converts the cached position to a sample with no motion data.
func (p LastPosition) PathPoint() PathPoint {
	return PathPoint{DtTracker: p.Timestamp, DeviceID: p.DeviceID, Lat: p.Lat, Lng: p.Lng}
}
