// Package models defines the core data structures for users, routes and
// the authentication token pair.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/oapi-codegen/nullable"
)

// ID is an entity identifier in canonical string form. The API sends ids as
// JSON numbers; strings are accepted as well.
//
// Numbers are rendered in shortest decimal form, so 42, 42.0 and 4.2e1 all
// become "42". Strings keep their content but lose surrounding whitespace.
type ID string

// UnmarshalJSON accepts a JSON number, a JSON string or null.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*id = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s).Canonical()
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("id: %w", err)
		}
		*id = ID(canonicalNumber(n))
	}
	return nil
}

func canonicalNumber(n json.Number) string {
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10)
	}
	f, err := n.Float64()
	if err != nil {
		return n.String()
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Canonical returns the id with surrounding whitespace removed.
func (id ID) Canonical() ID {
	return ID(strings.TrimSpace(string(id)))
}

func (id ID) String() string { return string(id) }

// UserType is the account role.
type UserType string

const (
	// Passenger books seats on routes.
	Passenger UserType = "passenger"
	// Driver publishes routes.
	Driver UserType = "driver"
)

// Valid reports whether t is a known role.
func (t UserType) Valid() bool {
	return t == Passenger || t == Driver
}

// User is an identity record.
type User struct {
	// ID is the unique identifier for the user.
	ID ID `json:"id"`
	// LoginID is the login name chosen by the user.
	LoginID string `json:"loginId"`
	// Nickname is the display name.
	Nickname string `json:"nickname"`
	// Email may be empty for users observed only inside route payloads.
	Email string `json:"email"`
	// Type is the account role.
	Type UserType `json:"type"`
	// ProfileImage is null when the user has no avatar.
	ProfileImage nullable.Nullable[string] `json:"profileImage,omitempty"`
}

// Profile is the registration payload without credentials.
type Profile struct {
	LoginID      string                    `json:"loginId"`
	Nickname     string                    `json:"nickname"`
	Email        string                    `json:"email"`
	Type         UserType                  `json:"type"`
	ProfileImage nullable.Nullable[string] `json:"profileImage,omitempty"`
}

// PassengerDetail is the passenger summary embedded in a route.
type PassengerDetail struct {
	ID           ID                        `json:"id"`
	Nickname     string                    `json:"nickname"`
	ProfileImage nullable.Nullable[string] `json:"profileImage,omitempty"`
}

// Route is a ride offer published by a driver.
type Route struct {
	ID             ID                        `json:"id"`
	DriverID       ID                        `json:"driverId"`
	DriverName     string                    `json:"driverName"`
	DriverAvatar   nullable.Nullable[string] `json:"driverAvatar,omitempty"`
	Date           string                    `json:"date"`
	Time           string                    `json:"time"`
	StartLocation  string                    `json:"startLocation"`
	Destination    string                    `json:"destination"`
	CarModel       string                    `json:"carModel"`
	TotalSeats     int                       `json:"totalSeats"`
	AvailableSeats int                       `json:"availableSeats"`
	Description    string                    `json:"description"`
	// Passengers holds the ids of users that booked the route.
	Passengers       []ID              `json:"passengers"`
	PassengerDetails []PassengerDetail `json:"passengerDetails"`
}

// NewRoute is what a driver submits to publish a route. The server assigns
// the id, the driver fields, the seat counter and the passenger lists.
type NewRoute struct {
	Date          string `json:"date"`
	Time          string `json:"time"`
	StartLocation string `json:"startLocation"`
	Destination   string `json:"destination"`
	CarModel      string `json:"carModel"`
	TotalSeats    int    `json:"totalSeats"`
	Description   string `json:"description"`
}

// TokenPair is the opaque access/refresh pair issued by the auth service.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Image returns the value of a nullable image field, or "" when null. The
// shell uses it to print avatars.
func Image(n nullable.Nullable[string]) string {
	v, err := n.Get()
	if err != nil {
		return ""
	}
	return v
}
