package databases

// go generate: mockery --name AlertDatabase

import (
	"context"

	"github.com/openblood/bloodlink-api/models"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const alertName = "alerts"

// AlertDatabase contains the methods to use with the alert database
type AlertDatabase interface {
	FindOne(context.Context, interface{}, ...*options.FindOneOptions) (*models.Alert, error)
	Find(context.Context, interface{}, ...*options.FindOptions) ([]models.Alert, error)
	FindPage(ctx context.Context, filter interface{}, limit, page int) ([]models.Alert, error)
	InsertOne(context.Context, interface{}, ...*options.InsertOneOptions) (InsertOneResultHelper, error)
	UpdateOne(context.Context, interface{}, interface{}, ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	UpdateMany(context.Context, interface{}, interface{}, ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	CountDocuments(context.Context, interface{}, ...*options.CountOptions) (int64, error)
	DeleteOne(context.Context, interface{}, ...*options.DeleteOptions) error
}

type alertDatabase struct {
	db DatabaseHelper
}

// NewAlertDatabase initializes a new instance of alert database with the provided db connection
func NewAlertDatabase(db DatabaseHelper) AlertDatabase {
	return &alertDatabase{
		db: db,
	}
}

func (a *alertDatabase) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*models.Alert, error) {
	alert := &models.Alert{}
	err := a.db.Collection(alertName).FindOne(ctx, filter, opts...).Decode(&alert)
	if err != nil {
		return nil, err
	}
	return alert, nil
}

func (a *alertDatabase) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.Alert, error) {
	var alerts []models.Alert
	cr, err := a.db.Collection(alertName).Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	err = cr.Decode(&alerts)
	if err != nil {
		return nil, err
	}
	return alerts, nil
}

func (a *alertDatabase) FindPage(ctx context.Context, filter interface{}, limit, page int) ([]models.Alert, error) {
	return a.Find(ctx, filter, newMongoPaginate(limit, page).getPaginatedOpts())
}

func (a *alertDatabase) InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (InsertOneResultHelper, error) {
	res, err := a.db.Collection(alertName).InsertOne(ctx, document, opts...)
	return res, err
}

func (a *alertDatabase) UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	return a.db.Collection(alertName).UpdateOne(ctx, filter, update, opts...)
}

func (a *alertDatabase) UpdateMany(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	return a.db.Collection(alertName).UpdateMany(ctx, filter, update, opts...)
}

func (a *alertDatabase) CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error) {
	return a.db.Collection(alertName).CountDocuments(ctx, filter, opts...)
}

func (a *alertDatabase) DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) error {
	return a.db.Collection(alertName).DeleteOne(ctx, filter, opts...)
}
