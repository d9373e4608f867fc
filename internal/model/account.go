package model

// Account is a locally remembered mailbox account on the managed domain.
// The collection of accounts and the single active pointer are owned by the
// session controller; the store only mirrors them for durability.
type Account struct {
	// ID is the internal unique identifier for this account.
	ID string `json:"id"`

	// Email is the full mailbox address, unique within the store.
	Email string `json:"email"`

	// Password is the mailbox password as entered by the user.
	// It never leaves the process boundary in API responses.
	Password string `json:"-"`

	// Domain is the mail domain the mailbox belongs to.
	Domain string `json:"domain"`

	// IsActive marks the account whose credentials are currently used
	// for message retrieval. At most one account is active at a time.
	IsActive bool `json:"is_active"`
}
