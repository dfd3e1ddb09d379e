package databases

// go generate: mockery --name DonorDatabase

import (
	"context"

	"github.com/openblood/bloodlink-api/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const donorName = "donors"

// earthRadiusKm converts a radius in kilometers to the radians
// $centerSphere expects.
const earthRadiusKm = 6378.1

// DonorDatabase contains the methods to use with the donor database
type DonorDatabase interface {
	FindOne(context.Context, interface{}, ...*options.FindOneOptions) (*models.Donor, error)
	Find(context.Context, interface{}, ...*options.FindOptions) ([]models.Donor, error)
	FindNearby(ctx context.Context, center models.GeoPoint, radiusKm float64, bloodTypes []string, limit int64) ([]models.Donor, error)
	InsertOne(context.Context, interface{}, ...*options.InsertOneOptions) (InsertOneResultHelper, error)
	UpdateOne(context.Context, interface{}, interface{}, ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	CountDocuments(context.Context, interface{}, ...*options.CountOptions) (int64, error)
}

type donorDatabase struct {
	db DatabaseHelper
}

// NewDonorDatabase initializes a new instance of donor database with the provided db connection
func NewDonorDatabase(db DatabaseHelper) DonorDatabase {
	return &donorDatabase{
		db: db,
	}
}

func (d *donorDatabase) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*models.Donor, error) {
	donor := &models.Donor{}
	err := d.db.Collection(donorName).FindOne(ctx, filter, opts...).Decode(&donor)
	if err != nil {
		return nil, err
	}
	return donor, nil
}

func (d *donorDatabase) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.Donor, error) {
	var donors []models.Donor
	cr, err := d.db.Collection(donorName).Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	err = cr.Decode(&donors)
	if err != nil {
		return nil, err
	}
	return donors, nil
}

// FindNearby queries candidate donors for an alert: blood group in the
// compatible set, eligible flag, verified, active, within radiusKm of
// center. The limit bounds notification fan-out; ordering follows the
// query (stable for a given dataset).
func (d *donorDatabase) FindNearby(ctx context.Context, center models.GeoPoint, radiusKm float64, bloodTypes []string, limit int64) ([]models.Donor, error) {
	filter := bson.M{
		"donor.bloodGroup":             bson.M{"$in": bloodTypes},
		"donor.eligibility.isEligible": true,
		"donor.verificationStatus":     models.VerificationStatusVerified,
		"donor.active":                 true,
		"donor.location": bson.M{
			"$geoWithin": bson.M{
				"$centerSphere": []interface{}{center.Coordinates, radiusKm / earthRadiusKm},
			},
		},
	}
	return d.Find(ctx, filter, &options.FindOptions{Limit: &limit})
}

func (d *donorDatabase) InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (InsertOneResultHelper, error) {
	res, err := d.db.Collection(donorName).InsertOne(ctx, document, opts...)
	return res, err
}

func (d *donorDatabase) UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	return d.db.Collection(donorName).UpdateOne(ctx, filter, update, opts...)
}

func (d *donorDatabase) CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error) {
	return d.db.Collection(donorName).CountDocuments(ctx, filter, opts...)
}
