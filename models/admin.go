package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AdminUser holds the structure for the admins collection in mongo. Platform
// admins authenticate with JWTs and may use the administrative alert
// override path.
type AdminUser struct {
	ID           primitive.ObjectID `json:"_id" bson:"_id,omitempty"`
	Email        string             `json:"email" bson:"email"`
	PasswordHash string             `json:"-" bson:"passwordHash"`
	Active       bool               `json:"active" bson:"active"`
	Roles        []string           `json:"roles" bson:"roles"`
	CreatedAt    time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt" bson:"updatedAt"`
}
