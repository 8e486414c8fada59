package models

import (
	"strings"
	"time"
)

// Organization is a directory entry for a community-services partner.
// Contact fields are only returned unmasked through the reveal flow.
type Organization struct {
	ID           string    `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Category     string    `json:"category,omitempty" db:"category"`
	Description  string    `json:"description,omitempty" db:"description"`
	Website      string    `json:"website,omitempty" db:"website"`
	ContactEmail string    `json:"-" db:"contact_email"`
	ContactPhone string    `json:"-" db:"contact_phone"`
	Address      string    `json:"-" db:"address"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// CreateOrganizationRequest is the admin payload for adding a directory entry
type CreateOrganizationRequest struct {
	Name         string `json:"name" validate:"required"`
	Category     string `json:"category,omitempty"`
	Description  string `json:"description,omitempty"`
	Website      string `json:"website,omitempty"`
	ContactEmail string `json:"contact_email" validate:"required,email"`
	ContactPhone string `json:"contact_phone,omitempty"`
	Address      string `json:"address,omitempty"`
}

// ContactData is the unmasked payload returned by a successful reveal
type ContactData struct {
	OrganizationID string `json:"organization_id"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	Address        string `json:"address"`
}

// MaskedContact is what the public directory shows before any approval
type MaskedContact struct {
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Masked returns the directory view of the organization's contact info
func (o *Organization) Masked() MaskedContact {
	return MaskedContact{
		Email: maskEmail(o.ContactEmail),
		Phone: maskPhone(o.ContactPhone),
	}
}

// Contact returns the unmasked reveal payload
func (o *Organization) Contact() ContactData {
	return ContactData{
		OrganizationID: o.ID,
		Email:          o.ContactEmail,
		Phone:          o.ContactPhone,
		Address:        o.Address,
	}
}

// maskEmail keeps the first character of the local part and the domain:
// "outreach@example.org" -> "o*******@example.org"
func maskEmail(email string) string {
	at := strings.Index(email, "@")
	if at <= 0 {
		return ""
	}
	local := email[:at]
	masked := local[:1] + strings.Repeat("*", len(local)-1)
	return masked + email[at:]
}

// maskPhone keeps only the last two digits
func maskPhone(phone string) string {
	if phone == "" {
		return ""
	}
	digits := 0
	for _, c := range phone {
		if c >= '0' && c <= '9' {
			digits++
		}
	}
	if digits <= 2 {
		return phone
	}
	seen := 0
	out := []rune(phone)
	for i, c := range out {
		if c >= '0' && c <= '9' {
			seen++
			if seen <= digits-2 {
				out[i] = '*'
			}
		}
	}
	return string(out)
}
