// Package profiles holds the business-domain record associated one-to-one
// with an authenticated identity, and the repository contract for reading and
// updating it.
package profiles

import "time"

// UserType represents the marketplace role recorded on a profile
type UserType string

const (
	UserTypeSuperAdmin UserType = "super-admin" // Manages the whole marketplace
	UserTypeAdmin      UserType = "admin"       // Manages a barangay's listings and users
	UserTypeFarmer     UserType = "farmer"      // Sells produce
	UserTypeBuyer      UserType = "buyer"       // Purchases produce
)

type Profile struct {
	ID         string    `json:"id,omitempty"`          // Matches the identity-provider user ID
	Email      string    `json:"email,omitempty"`       // Contact email
	FirstName  string    `json:"first_name,omitempty"`  // First name
	LastName   string    `json:"last_name,omitempty"`   // Last name
	Phone      string    `json:"phone,omitempty"`       // Contact number
	Barangay   string    `json:"barangay,omitempty"`    // Locality the account operates in
	UserType   UserType  `json:"user_type,omitempty"`   // Marketplace role
	FarmName   string    `json:"farm_name,omitempty"`   // Farmer accounts only
	CreatedAt  time.Time `json:"created_at,omitempty"`  // When the profile was created
	UpdatedAt  time.Time `json:"updated_at,omitempty"`  // Last modification time
}

// Merge applies the non-zero fields of changes onto p and returns the result.
// ID and CreatedAt are never overwritten.
func (p Profile) Merge(changes Profile) Profile {
	if changes.Email != "" {
		p.Email = changes.Email
	}
	if changes.FirstName != "" {
		p.FirstName = changes.FirstName
	}
	if changes.LastName != "" {
		p.LastName = changes.LastName
	}
	if changes.Phone != "" {
		p.Phone = changes.Phone
	}
	if changes.Barangay != "" {
		p.Barangay = changes.Barangay
	}
	if changes.UserType != "" {
		p.UserType = changes.UserType
	}
	if changes.FarmName != "" {
		p.FarmName = changes.FarmName
	}
	if !changes.UpdatedAt.IsZero() {
		p.UpdatedAt = changes.UpdatedAt
	}
	return p
}
