// Package admin holds the static operator allow-list. Accounts on it
// bypass credit checks and risk scoring entirely; membership is fixed at
// process start and changing it requires a restart.
package admin

import (
	"strings"

	"github.com/google/uuid"
)

// UnlimitedBalance is the sentinel balance reported for override
// accounts. It is display-only and never written to the ledger.
const UnlimitedBalance = 999999

// Overrides answers whether an account is on the operator allow-list.
// Lookups are read-only after construction, so it is safe for concurrent
// use without locking.
type Overrides struct {
	emails     map[string]struct{}
	accountIDs map[uuid.UUID]struct{}
}

// New builds the allow-list from configured emails and account IDs.
// Emails match case-insensitively; malformed account IDs are skipped.
func New(emails []string, accountIDs []string) *Overrides {
	o := &Overrides{
		emails:     make(map[string]struct{}, len(emails)),
		accountIDs: make(map[uuid.UUID]struct{}, len(accountIDs)),
	}

	for _, email := range emails {
		email = strings.ToLower(strings.TrimSpace(email))
		if email == "" {
			continue
		}
		o.emails[email] = struct{}{}
	}

	for _, raw := range accountIDs {
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			continue
		}
		o.accountIDs[id] = struct{}{}
	}

	return o
}

// IsAdminEmail reports whether the email is on the allow-list
func (o *Overrides) IsAdminEmail(email string) bool {
	_, found := o.emails[strings.ToLower(strings.TrimSpace(email))]
	return found
}

// IsAdminAccount reports whether the account is on the allow-list,
// matching by ID or by email
func (o *Overrides) IsAdminAccount(id uuid.UUID, email string) bool {
	if _, found := o.accountIDs[id]; found {
		return true
	}
	return o.IsAdminEmail(email)
}

// Len returns the total number of allow-list entries
func (o *Overrides) Len() int {
	return len(o.emails) + len(o.accountIDs)
}
