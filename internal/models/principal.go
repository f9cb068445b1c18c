package models

import (
	"slices"
	"strings"
	"time"
)

// Principal is the subject tokens are issued for
// Roles and scopes are sets: deduplicated and sorted, order never matters
type Principal struct {
	Subject string
	Roles   []string
	Scopes  []string
}

func NewPrincipal(subject string, roles []string, scopes []string) Principal {
	return Principal{
		Subject: subject,
		Roles:   NormalizeSet(roles),
		Scopes:  NormalizeSet(scopes),
	}
}

// AuthContext is what a verified access token tells about its bearer
type AuthContext struct {
	Subject   string
	Roles     []string
	Scopes    []string
	Audience  []string
	IssuedAt  time.Time
	ExpiresAt time.Time
	KeyID     string
	TokenID   string
}

func (a AuthContext) HasRole(role string) bool {
	_, found := slices.BinarySearch(a.Roles, role)
	return found
}

func (a AuthContext) HasScope(scope string) bool {
	_, found := slices.BinarySearch(a.Scopes, scope)
	return found
}

// NormalizeSet returns sorted values without blanks and duplicates
func NormalizeSet(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
