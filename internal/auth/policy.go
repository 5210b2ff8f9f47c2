package auth

import "strings"

// RegistrationPolicy decides who may create an account. When registration
// is closed only allow-listed usernames are accepted; an empty allow-list
// means nobody.
type RegistrationPolicy struct {
	Open    bool
	allowed map[string]bool
}

func NewRegistrationPolicy(open bool, allowedUsernames []string) RegistrationPolicy {
	allowed := make(map[string]bool, len(allowedUsernames))
	for _, u := range allowedUsernames {
		allowed[strings.ToLower(u)] = true
	}
	return RegistrationPolicy{Open: open, allowed: allowed}
}

func (p RegistrationPolicy) Allows(username string) bool {
	return p.Open || p.allowed[strings.ToLower(username)]
}
