package domain

// Identity is the acting user, passed explicitly into every entitlement call.
type Identity struct {
	UserID string
	Email  string
}

// NewIdentity creates an Identity.
func NewIdentity(userID, email string) Identity {
	return Identity{UserID: userID, Email: email}
}

// Keys returns the non-empty lookup keys of the identity (user id first).
func (i Identity) Keys() []string {
	keys := make([]string, 0, 2)
	if i.UserID != "" {
		keys = append(keys, i.UserID)
	}
	if i.Email != "" {
		keys = append(keys, i.Email)
	}
	return keys
}
