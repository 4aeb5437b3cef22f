// Package tutorial holds the tutorial resource: its document model, the
// MongoDB store, and the service the HTTP routes call.
package tutorial

import (
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	ErrNotFound  = errors.New("tutorial not found")
	ErrInvalidID = errors.New("invalid tutorial id")
	ErrNoChanges = errors.New("no fields to update")
)

// Tutorial is stored in the "tutorials" collection. The ObjectID is exposed
// as "id" in JSON.
type Tutorial struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Title       string             `bson:"title" json:"title"`
	Description string             `bson:"description" json:"description"`
	Published   bool               `bson:"published" json:"published"`
	CreatedAt   time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// CreateInput is the payload for a new tutorial.
type CreateInput struct {
	Title       string `json:"title" form:"title" binding:"required"`
	Description string `json:"description" form:"description"`
	Published   bool   `json:"published" form:"published"`
}

// UpdateInput is a partial update; nil fields are left untouched.
type UpdateInput struct {
	Title       *string `json:"title" form:"title"`
	Description *string `json:"description" form:"description"`
	Published   *bool   `json:"published" form:"published"`
}

// Empty reports whether the update sets nothing.
func (u UpdateInput) Empty() bool {
	return u.Title == nil && u.Description == nil && u.Published == nil
}

// ParseID converts a hex string to an ObjectID.
func ParseID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, ErrInvalidID
	}
	return oid, nil
}
