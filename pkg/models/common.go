package models

import "github.com/google/uuid"

// NewUUID generates a new UUID string
func NewUUID() string {
	return uuid.New().String()
}

// Float64Ptr returns a pointer to v. Threshold fields distinguish unset
// from zero, so literals need an address.
func Float64Ptr(v float64) *float64 {
	return &v
}
