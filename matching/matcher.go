// Package matching resolves the eligible-donor set for a shortage alert:
// blood compatibility, geographic proximity, medical eligibility and donor
// preferences, in that order.
package matching

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/openblood/bloodlink-api/databases"
	"github.com/openblood/bloodlink-api/models"
)

// MaxCandidates bounds the proximity query so notification fan-out stays
// manageable for dense urban areas.
const MaxCandidates = 500

// Service finds donors for alerts. Construct with NewService; the donor
// database and clock are injected so tests control both.
type Service struct {
	DonorDB databases.DonorDatabase
	Now     func() time.Time
}

// NewService builds a matching service over the given donor database
func NewService(donorDB databases.DonorDatabase) *Service {
	return &Service{DonorDB: donorDB, Now: time.Now}
}

// FindEligibleDonors returns the donors an alert should notify. An unknown
// blood type or an empty candidate set is a valid empty result, not an
// error. Result order follows the store query, so repeated calls over the
// same data are stable.
func (s *Service) FindEligibleDonors(ctx context.Context, alert *models.Alert) ([]models.Donor, error) {
	compatible := models.CompatibleDonorTypes(alert.Details.BloodType)
	if len(compatible) == 0 {
		return []models.Donor{}, nil
	}

	candidates, err := s.DonorDB.FindNearby(ctx, alert.Details.Location, alert.Details.SearchRadius, compatible, MaxCandidates)
	if err != nil {
		return nil, err
	}

	now := s.Now()
	eligible := make([]models.Donor, 0, len(candidates))
	for _, donor := range candidates {
		// The stored isEligible flag can be stale; the evaluator is the
		// source of truth.
		if result := models.EvaluateEligibility(donor.Details, now); !result.Eligible {
			zap.S().Debugw("donor excluded by eligibility re-check",
				"donorId", donor.ID,
				"reason", result.Reason,
			)
			continue
		}
		if donor.Details.Preferences.MaxTravelDistance < alert.Details.SearchRadius {
			continue
		}
		if hasResponded(alert, donor.ID) {
			continue
		}
		if donor.Details.Preferences.EmergencyOnly && alert.Details.UrgencyLevel != models.UrgencyCritical {
			continue
		}
		eligible = append(eligible, donor)
	}

	zap.S().Infow("donor matching complete",
		"alertId", alert.ID,
		"bloodType", alert.Details.BloodType,
		"candidates", len(candidates),
		"eligible", len(eligible),
	)
	return eligible, nil
}

func hasResponded(alert *models.Alert, donorID string) bool {
	for _, r := range alert.Details.Responses {
		if r.DonorID == donorID {
			return true
		}
	}
	return false
}
