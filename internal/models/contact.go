package models

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// LinkPrecedence marks a contact as the head of its cluster or an alias of it.
type LinkPrecedence string

const (
	PrecedencePrimary   LinkPrecedence = "primary"
	PrecedenceSecondary LinkPrecedence = "secondary"
)

// Contact represents a customer contact in the database
type Contact struct {
	ID             int64          `json:"id"`
	PhoneNumber    *string        `json:"phoneNumber"`
	Email          *string        `json:"email"`
	LinkedID       *int64         `json:"linkedId"`
	LinkPrecedence LinkPrecedence `json:"linkPrecedence"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	DeletedAt      *time.Time     `json:"deletedAt"`
}

// IsPrimary reports whether the contact heads its cluster.
func (c *Contact) IsPrimary() bool {
	return c.LinkPrecedence == PrecedencePrimary
}

// Before orders contacts by creation time, then id.
func (c *Contact) Before(other *Contact) bool {
	if !c.CreatedAt.Equal(other.CreatedAt) {
		return c.CreatedAt.Before(other.CreatedAt)
	}
	return c.ID < other.ID
}

// RawValue holds a request field that may arrive as a JSON string, a JSON
// number or null. Raw keeps the literal text for numbers so that phone
// numbers survive without float rounding.
type RawValue struct {
	Raw      string
	IsString bool
	Present  bool
}

// StringValue builds a RawValue from a Go string, as if it were a JSON string.
func StringValue(s string) *RawValue {
	return &RawValue{Raw: s, IsString: true, Present: true}
}

// UnmarshalJSON accepts strings, numbers and null. Other JSON types are
// kept as not present.
func (v *RawValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = RawValue{}
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = RawValue{Raw: s, IsString: true, Present: true}
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*v = RawValue{Raw: formatNumber(n), Present: true}
	default:
		*v = RawValue{}
	}
	return nil
}

// MarshalJSON writes the value back in the form it was received.
func (v RawValue) MarshalJSON() ([]byte, error) {
	if !v.Present {
		return []byte("null"), nil
	}
	if v.IsString {
		return json.Marshal(v.Raw)
	}
	return []byte(v.Raw), nil
}

// maxSafeInteger bounds the integers a float64 holds without rounding.
const maxSafeInteger = 1<<53 - 1

// formatNumber renders a JSON number the way JavaScript's String(value)
// does: plain digits for magnitudes in [1e-6, 1e21), exponent form with an
// unpadded exponent outside it.
func formatNumber(n json.Number) string {
	if i, err := n.Int64(); err == nil && i >= -maxSafeInteger && i <= maxSafeInteger {
		return strconv.FormatInt(i, 10)
	}
	f, err := n.Float64()
	switch {
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case err != nil:
		return n.String()
	case f == 0:
		return "0"
	}
	if abs := math.Abs(f); abs >= 1e21 || abs < 1e-6 {
		mantissa, exp, _ := strings.Cut(strconv.FormatFloat(f, 'e', -1, 64), "e")
		return mantissa + "e" + exp[:1] + strings.TrimLeft(exp[1:], "0")
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// IdentifyRequest represents the incoming request body
type IdentifyRequest struct {
	Email       *RawValue `json:"email"`
	PhoneNumber *RawValue `json:"phoneNumber"`
}

// ContactResponse represents the contact data in the response.
// The primaryContatctId spelling is the published wire key.
type ContactResponse struct {
	PrimaryContactID    int64    `json:"primaryContatctId"`
	Emails              []string `json:"emails"`
	PhoneNumbers        []string `json:"phoneNumbers"`
	SecondaryContactIDs []int64  `json:"secondaryContactIds"`
}

// IdentifyResponse represents the response body
type IdentifyResponse struct {
	Contact ContactResponse `json:"contact"`
}
