// Package coinaddr classifies cryptocurrency addresses into the coin
// networks the bot supports.
package coinaddr

import (
	"errors"
	"strings"
)

// ErrInvalidAddress is returned for addresses that match no supported network.
var ErrInvalidAddress = errors.New("invalid cryptocurrency address")

// Family identifies a supported coin network.
type Family string

const (
	FamilyBTC Family = "btc"
	FamilyLTC Family = "ltc"
)

// Symbol returns the display ticker for the family.
func (f Family) Symbol() string {
	return strings.ToUpper(string(f))
}

// Families returns the supported networks in explorer probe order.
func Families() []Family {
	return []Family{FamilyBTC, FamilyLTC}
}

// Classify determines which network an address belongs to from its prefix.
// It performs no I/O and must be called before any explorer lookup so that
// garbage input never costs a network round-trip.
func Classify(address string) (Family, error) {
	switch {
	case strings.HasPrefix(address, "1"),
		strings.HasPrefix(address, "3"),
		strings.HasPrefix(address, "bc1"):
		return FamilyBTC, nil
	case strings.HasPrefix(address, "L"),
		strings.HasPrefix(address, "M"),
		strings.HasPrefix(address, "ltc1"):
		return FamilyLTC, nil
	default:
		return "", ErrInvalidAddress
	}
}
