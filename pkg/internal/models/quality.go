package models

import "gorm.io/datatypes"

type QualityRating = string

const (
	QualityRatingExcellent QualityRating = "excellent"
	QualityRatingGood      QualityRating = "good"
	QualityRatingFair      QualityRating = "fair"
	QualityRatingPoor      QualityRating = "poor"
)

// QualitySample is one client-reported network measurement. Rows are
// append-only and purged after the retention window by the reaper.
type QualitySample struct {
	BaseModel

	CallID        uint `json:"call_id" gorm:"index"`
	ParticipantID uint `json:"participant_id"`

	JitterMs      float64 `json:"jitter_ms"`
	PacketLossPct float64 `json:"packet_loss_pct"`
	RttMs         float64 `json:"rtt_ms"`
	BandwidthKbps int     `json:"bandwidth_kbps"`

	// Optional device-side details such as fps, resolution and codec.
	Metadata datatypes.JSONMap `json:"metadata,omitempty"`

	Rating QualityRating `json:"rating"`
}
