package databases_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/openblood/bloodlink-api/config"
	"github.com/openblood/bloodlink-api/databases"
	"github.com/openblood/bloodlink-api/databases/mocks"
	"github.com/openblood/bloodlink-api/models"
)

func TestNewAlertDatabase(t *testing.T) {
	os.Setenv("DB_URI", "mongodb://127.0.0.1:27017")
	os.Setenv("DB_NAME", "test")
	conf := config.New()

	dbClient, err := databases.NewClient(conf)
	assert.NoError(t, err)

	db := databases.NewDatabase(conf, dbClient)

	alertDB := databases.NewAlertDatabase(db)

	assert.NotEmpty(t, alertDB)
}

func TestAlertDatabase_FindOne(t *testing.T) {

	// define variables for interfaces
	var dbHelper databases.DatabaseHelper
	var collectionHelper databases.CollectionHelper
	var srHelperErr databases.SingleResultHelper
	var srHelperCorrect databases.SingleResultHelper

	// set interfaces implementation to mocked structures
	dbHelper = &mocks.DatabaseHelper{}
	collectionHelper = &mocks.CollectionHelper{}
	srHelperErr = &mocks.SingleResultHelper{}
	srHelperCorrect = &mocks.SingleResultHelper{}

	srHelperErr.(*mocks.SingleResultHelper).
		On("Decode", mock.Anything).
		Return(errors.New("mocked-error"))

	srHelperCorrect.(*mocks.SingleResultHelper).
		On("Decode", mock.Anything).
		Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.Alert)
		(*arg).ID = "mocked-alert"
	})

	collectionHelper.(*mocks.CollectionHelper).
		On("FindOne", context.Background(), bson.M{"error": true}).
		Return(srHelperErr)

	collectionHelper.(*mocks.CollectionHelper).
		On("FindOne", context.Background(), bson.M{"error": false}).
		Return(srHelperCorrect)

	dbHelper.(*mocks.DatabaseHelper).
		On("Collection", "alerts").Return(collectionHelper)

	// Create new database with mocked Database interface
	alertDba := databases.NewAlertDatabase(dbHelper)

	// Call method with defined filter, that in our mocked function returns
	// mocked-error
	alert, err := alertDba.FindOne(context.Background(), bson.M{"error": true})

	assert.Empty(t, alert)
	assert.EqualError(t, err, "mocked-error")

	// Now call the same function with different filter for the correct
	// result
	alert, err = alertDba.FindOne(context.Background(), bson.M{"error": false})

	assert.Equal(t, &models.Alert{ID: "mocked-alert"}, alert)
	assert.NoError(t, err)
}

func TestAlertDatabase_UpdateOne(t *testing.T) {

	var dbHelper databases.DatabaseHelper
	var collectionHelper databases.CollectionHelper

	dbHelper = &mocks.DatabaseHelper{}
	collectionHelper = &mocks.CollectionHelper{}

	collectionHelper.(*mocks.CollectionHelper).
		On("UpdateOne", context.Background(), mock.Anything, mock.Anything).
		Return(nil, errors.New("mocked-error"))

	dbHelper.(*mocks.DatabaseHelper).
		On("Collection", "alerts").Return(collectionHelper)

	alertDba := databases.NewAlertDatabase(dbHelper)

	res, err := alertDba.UpdateOne(context.Background(),
		bson.M{"_id": "a1", "__v": int32(0)},
		bson.M{"$set": bson.M{"alert.status": models.AlertStatusCancelled}},
	)

	assert.Nil(t, res)
	assert.EqualError(t, err, "mocked-error")
}
