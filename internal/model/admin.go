package model

import (
	"time"

	"github.com/google/uuid"
)

// AdminIdentity is the bootstrap administrative credential record.
type AdminIdentity struct {
	ID             uuid.UUID `json:"id"`
	Username       string    `json:"username"`
	CredentialHash string    `json:"-"`
	MustRotate     bool      `json:"must_rotate"`
	CreatedAt      time.Time `json:"created_at"`
}
