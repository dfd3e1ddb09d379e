package databases

// go generate: mockery --name HospitalDatabase

import (
	"context"

	"github.com/openblood/bloodlink-api/models"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const hospitalName = "hospitals"

// HospitalDatabase contains the methods to use with the hospital database
type HospitalDatabase interface {
	FindOne(context.Context, interface{}, ...*options.FindOneOptions) (*models.Hospital, error)
	Find(context.Context, interface{}, ...*options.FindOptions) ([]models.Hospital, error)
	InsertOne(context.Context, interface{}, ...*options.InsertOneOptions) (InsertOneResultHelper, error)
	UpdateOne(context.Context, interface{}, interface{}, ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	CountDocuments(context.Context, interface{}, ...*options.CountOptions) (int64, error)
}

type hospitalDatabase struct {
	db DatabaseHelper
}

// NewHospitalDatabase initializes a new instance of hospital database with the provided db connection
func NewHospitalDatabase(db DatabaseHelper) HospitalDatabase {
	return &hospitalDatabase{
		db: db,
	}
}

func (h *hospitalDatabase) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*models.Hospital, error) {
	hospital := &models.Hospital{}
	err := h.db.Collection(hospitalName).FindOne(ctx, filter, opts...).Decode(&hospital)
	if err != nil {
		return nil, err
	}
	return hospital, nil
}

func (h *hospitalDatabase) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.Hospital, error) {
	var hospitals []models.Hospital
	cr, err := h.db.Collection(hospitalName).Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	err = cr.Decode(&hospitals)
	if err != nil {
		return nil, err
	}
	return hospitals, nil
}

func (h *hospitalDatabase) InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (InsertOneResultHelper, error) {
	res, err := h.db.Collection(hospitalName).InsertOne(ctx, document, opts...)
	return res, err
}

func (h *hospitalDatabase) UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	return h.db.Collection(hospitalName).UpdateOne(ctx, filter, update, opts...)
}

func (h *hospitalDatabase) CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error) {
	return h.db.Collection(hospitalName).CountDocuments(ctx, filter, opts...)
}
