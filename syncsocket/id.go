package syncsocket

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Id identifies one transport instance of a client. Ids sort by creation time.
// comparable
type Id [16]byte

func NewId() Id {
	return Id(ulid.Make())
}

func (self Id) String() string {
	return ulid.ULID(self).String()
}

// NewCorrelationId returns a random (v4) uuid string, 122 random bits.
// Correlation ids pair an outbound rmi with its rmi-result.
func NewCorrelationId() string {
	return uuid.NewString()
}
