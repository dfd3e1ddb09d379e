// Package scheduler runs the periodic background jobs behind the alert
// lifecycle: sweeping expired alerts and raising automatic shortage alerts
// when hospital inventory crosses below its critical threshold.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/openblood/bloodlink-api/databases"
	"github.com/openblood/bloodlink-api/matching"
	"github.com/openblood/bloodlink-api/models"
	"github.com/openblood/bloodlink-api/notifications"
)

// Defaults applied to inventory-triggered alerts. Hospitals tune the
// request afterwards if the automatic values don't fit.
const (
	autoAlertUnits    = 3
	autoAlertRadiusKm = 50.0
)

// Scheduler handles periodic background jobs for the alert lifecycle
type Scheduler struct {
	cron       *cron.Cron
	AlertDB    databases.AlertDatabase
	HDB        databases.HospitalDatabase
	LockDB     databases.SchedulerLockDatabase
	Matcher    *matching.Service
	Dispatcher *notifications.Dispatcher
	instanceID string
}

// NewScheduler creates a new scheduler instance
func NewScheduler(
	alertDB databases.AlertDatabase,
	hDB databases.HospitalDatabase,
	lockDB databases.SchedulerLockDatabase,
	matcher *matching.Service,
	dispatcher *notifications.Dispatcher,
) *Scheduler {
	// Generate a unique instance ID for this pod
	instanceID := os.Getenv("DYNO")
	if instanceID == "" {
		instanceID = fmt.Sprintf("instance-%d", time.Now().UnixNano())
	}

	return &Scheduler{
		cron:       cron.New(cron.WithLocation(time.UTC)),
		AlertDB:    alertDB,
		HDB:        hDB,
		LockDB:     lockDB,
		Matcher:    matcher,
		Dispatcher: dispatcher,
		instanceID: instanceID,
	}
}

// Start begins the scheduler with all registered jobs
func (s *Scheduler) Start() {
	// Persist the expired transition for alerts past their boundary.
	// Reads already treat expiry as a derived predicate; the sweep keeps
	// collection filters cheap.
	_, err := s.cron.AddFunc("*/5 * * * *", s.sweepExpiredAlerts)
	if err != nil {
		zap.S().Errorw("failed to register expiry sweep job", "error", err)
	}

	// Raise automatic shortage alerts for hospitals whose inventory has
	// fallen below the critical threshold
	_, err = s.cron.AddFunc("*/15 * * * *", s.checkInventoryLevels)
	if err != nil {
		zap.S().Errorw("failed to register inventory check job", "error", err)
	}

	s.cron.Start()
	zap.S().Info("Alert scheduler started")
}

// Stop gracefully stops the scheduler
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	zap.S().Info("Alert scheduler stopped")
}

// sweepExpiredAlerts marks non-terminal alerts past expiresAt as expired
func (s *Scheduler) sweepExpiredAlerts() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	acquired, err := s.LockDB.TryAcquireLock(ctx, "expiry_sweep_job", s.instanceID, 5*time.Minute)
	if err != nil {
		zap.S().Errorw("failed to acquire lock for expiry sweep", "error", err)
		return
	}
	if !acquired {
		zap.S().Debug("Expiry sweep already running on another instance, skipping")
		return
	}
	defer s.LockDB.ReleaseLock(ctx, "expiry_sweep_job", s.instanceID)

	now := primitive.NewDateTimeFromTime(time.Now())
	filter := bson.M{
		"alert.status":    bson.M{"$in": []string{models.AlertStatusActive, models.AlertStatusPartiallyFulfilled}},
		"alert.expiresAt": bson.M{"$lt": now},
	}
	update := bson.M{
		"$set": bson.M{
			"alert.status":    models.AlertStatusExpired,
			"alert.updatedAt": now,
		},
		// Every alert write bumps __v so a concurrent version-guarded
		// update cannot match a stale version.
		"$inc": bson.M{"__v": 1},
	}

	res, err := s.AlertDB.UpdateMany(ctx, filter, update)
	if err != nil {
		zap.S().Errorw("failed to sweep expired alerts", "error", err)
		return
	}
	if res.ModifiedCount > 0 {
		zap.S().Infow("Expiry sweep complete", "expired", res.ModifiedCount, "instance", s.instanceID)
	}
}

// checkInventoryLevels raises shortage alerts for hospitals with auto-alert
// enabled whose available units for a blood type fell below the critical
// threshold
func (s *Scheduler) checkInventoryLevels() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	acquired, err := s.LockDB.TryAcquireLock(ctx, "inventory_check_job", s.instanceID, 10*time.Minute)
	if err != nil {
		zap.S().Errorw("failed to acquire lock for inventory check", "error", err)
		return
	}
	if !acquired {
		zap.S().Debug("Inventory check already running on another instance, skipping")
		return
	}
	defer s.LockDB.ReleaseLock(ctx, "inventory_check_job", s.instanceID)

	hospitals, err := s.HDB.Find(ctx, bson.M{"hospital.alertSettings.autoAlertEnabled": true})
	if err != nil {
		zap.S().Errorw("failed to find hospitals for inventory check", "error", err)
		return
	}

	created := 0
	for _, hospital := range hospitals {
		for _, bloodType := range models.BloodTypes {
			entry, ok := hospital.Details.Inventory[bloodType]
			if !ok {
				continue
			}
			threshold := hospital.Details.CriticalThreshold(bloodType)
			if threshold <= 0 || entry.Available >= threshold {
				continue
			}
			if s.raiseAutoAlert(ctx, hospital, bloodType, entry.Available, threshold) {
				created++
			}
		}
	}

	zap.S().Infow("Inventory check complete",
		"hospitalsChecked", len(hospitals),
		"alertsCreated", created,
	)
}

// raiseAutoAlert creates one shortage alert for a hospital and blood type,
// unless an open alert for the pair already exists. The uniqueness check
// prevents concurrent sweeps and manual creations from stacking duplicates.
func (s *Scheduler) raiseAutoAlert(ctx context.Context, hospital models.Hospital, bloodType string, available, threshold int) bool {
	count, err := s.AlertDB.CountDocuments(ctx, bson.M{
		"alert.hospitalId": hospital.ID,
		"alert.bloodType":  bloodType,
		"alert.status":     bson.M{"$in": []string{models.AlertStatusActive, models.AlertStatusPartiallyFulfilled}},
	})
	if err != nil {
		zap.S().Errorw("failed to check for existing alert", "error", err, "hospitalId", hospital.ID, "bloodType", bloodType)
		return false
	}
	if count > 0 {
		return false
	}

	now := time.Now()
	details := models.NewAlertDetails(models.AlertDetails{
		HospitalID:   hospital.ID,
		BloodType:    bloodType,
		UrgencyLevel: models.UrgencyHigh,
		UnitsNeeded:  autoAlertUnits,
		Reason:       fmt.Sprintf("Automatic alert: %s inventory (%d units) below critical threshold (%d)", bloodType, available, threshold),
		Location:     hospital.Details.Location,
		SearchRadius: autoAlertRadiusKm,
		CreatedBy:    "system",
	}, now)

	alert := models.Alert{
		ID:      primitive.NewObjectID().Hex(),
		Details: details,
	}

	_, err = s.AlertDB.InsertOne(ctx, bson.M{
		"_id":   alert.ID,
		"alert": alert.Details,
		"__v":   0,
	})
	if err != nil {
		zap.S().Errorw("failed to create auto alert", "error", err, "hospitalId", hospital.ID, "bloodType", bloodType)
		return false
	}

	donors, err := s.Matcher.FindEligibleDonors(ctx, &alert)
	if err != nil {
		zap.S().Errorw("failed to match donors for auto alert", "error", err, "alertId", alert.ID)
		return true
	}

	summary, records := s.Dispatcher.Dispatch(ctx, &alert, donors)
	_, err = s.AlertDB.UpdateOne(ctx, bson.M{"_id": alert.ID}, bson.M{
		"$push": bson.M{"alert.notifications.records": bson.M{"$each": records}},
		"$inc":  bson.M{"alert.notifications.sent": len(donors), "__v": 1},
		"$set":  bson.M{"alert.updatedAt": primitive.NewDateTimeFromTime(time.Now())},
	})
	if err != nil {
		zap.S().Errorw("failed to record auto alert notifications", "error", err, "alertId", alert.ID)
	}

	zap.S().Infow("Raised automatic shortage alert",
		"alertId", alert.ID,
		"hospitalId", hospital.ID,
		"bloodType", bloodType,
		"donorsNotified", len(donors),
		"email", summary.Email,
		"sms", summary.SMS,
		"push", summary.Push,
	)
	return true
}
