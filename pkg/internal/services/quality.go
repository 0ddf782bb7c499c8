package services

import (
	"github.com/murmur-chat/calling/pkg/internal/models"
)

// ClassifyQuality maps one network measurement to a rating band.
// Bands are evaluated most-strict first; the first match wins.
func ClassifyQuality(jitterMs, packetLossPct, rttMs float64) models.QualityRating {
	switch {
	case jitterMs < 20 && packetLossPct < 1 && rttMs < 100:
		return models.QualityRatingExcellent
	case jitterMs < 40 && packetLossPct < 3 && rttMs < 200:
		return models.QualityRatingGood
	case jitterMs < 60 && packetLossPct < 5 && rttMs < 300:
		return models.QualityRatingFair
	default:
		return models.QualityRatingPoor
	}
}
