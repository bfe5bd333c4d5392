package recipients

import (
	"context"
	"errors"
)

// OrgAdminPermission marks an organization administrator.
const OrgAdminPermission = "admin:org:all"

// ErrMalformedResponse is returned by lookups whose response cannot be used.
var ErrMalformedResponse = errors.New("malformed identity response")

// IdentityQuery is one page of a batch user lookup.
type IdentityQuery struct {
	OrgID      string   `json:"orgId"`
	Usernames  []string `json:"usernames,omitempty"`
	GroupID    string   `json:"groupId,omitempty"`
	AdminsOnly bool     `json:"adminsOnly"`
	Offset     int      `json:"offset"`
	Limit      int      `json:"limit"`
}

type IdentityUser struct {
	ID                   string                `json:"id"`
	Authentications      []Authentication      `json:"authentications"`
	AccountRelationships []AccountRelationship `json:"accountRelationships"`
	PersonalInformation  PersonalInformation   `json:"personalInformation"`
}

type Authentication struct {
	Principal string `json:"principal"`
	Type      string `json:"providerName,omitempty"`
}

type AccountRelationship struct {
	Emails      []Email      `json:"emails"`
	Permissions []Permission `json:"permissions"`
	IsActive    bool         `json:"isActive"`
}

type Email struct {
	Address   string `json:"address"`
	IsPrimary bool   `json:"isPrimary"`
}

type Permission struct {
	PermissionCode string `json:"permissionCode"`
}

type PersonalInformation struct {
	FirstName string `json:"firstName"`
	LastNames string `json:"lastNames"`
	Locale    string `json:"locale"`
	TimeZone  string `json:"timeZone"`
}

// IdentityLookup is an idempotent, read-only batch user lookup.
type IdentityLookup interface {
	LookupUsers(ctx context.Context, query IdentityQuery) ([]IdentityUser, error)
}

func (u *IdentityUser) active() bool {
	for _, rel := range u.AccountRelationships {
		if rel.IsActive {
			return true
		}
	}
	return false
}

func (u *IdentityUser) admin() bool {
	for _, rel := range u.AccountRelationships {
		for _, perm := range rel.Permissions {
			if perm.PermissionCode == OrgAdminPermission {
				return true
			}
		}
	}
	return false
}

// addresses returns the user's email addresses, primary ones first.
func (u *IdentityUser) addresses() []string {
	var primary, other []string
	seen := map[string]struct{}{}
	for _, rel := range u.AccountRelationships {
		for _, email := range rel.Emails {
			if email.Address == "" {
				continue
			}
			if _, ok := seen[email.Address]; ok {
				continue
			}
			seen[email.Address] = struct{}{}
			if email.IsPrimary {
				primary = append(primary, email.Address)
			} else {
				other = append(other, email.Address)
			}
		}
	}
	return append(primary, other...)
}

func (u *IdentityUser) validate() error {
	if u.ID == "" {
		return errors.New("user without id")
	}
	if len(u.Authentications) == 0 || u.Authentications[0].Principal == "" {
		return errors.New("user " + u.ID + " without authentication principal")
	}
	if len(u.AccountRelationships) == 0 {
		return errors.New("user " + u.ID + " without account relationship")
	}
	return nil
}
