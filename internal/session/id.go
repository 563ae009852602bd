package session

import (
	"strings"

	"github.com/google/uuid"
)

// maxIDAttempts bounds how many ids a store draws before giving up on a
// collision-free one.
const maxIDAttempts = 8

// ShortIDLength is the length of ids produced by ShortIDGenerator.
const ShortIDLength = 8

// IDGenerator produces session identifiers.
type IDGenerator interface {
	NewID() string
}

// IDGeneratorFunc adapts a plain function to IDGenerator.
type IDGeneratorFunc func() string

// NewID implements IDGenerator.
func (f IDGeneratorFunc) NewID() string { return f() }

// UUIDGenerator issues random version 4 UUIDs (122 bits of entropy).
type UUIDGenerator struct{}

// NewID implements IDGenerator.
func (UUIDGenerator) NewID() string {
	return uuid.NewString()
}

// ShortIDGenerator issues the first 8 hex characters of a random UUID.
//
// 32 bits of entropy keeps relay links short enough to type on a phone, but
// collisions become likely after tens of thousands of live sessions. Stores
// retry against live sessions, so uniqueness holds only among sessions that
// have not been evicted yet.
type ShortIDGenerator struct{}

// NewID implements IDGenerator.
func (ShortIDGenerator) NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:ShortIDLength]
}

// NewIDGenerator returns the generator selected by configuration.
func NewIDGenerator(short bool) IDGenerator {
	if short {
		return ShortIDGenerator{}
	}
	return UUIDGenerator{}
}
