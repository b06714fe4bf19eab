package auth

import (
	"context"
	"crypto/sha256"
	"fmt"
	"slices"
	"strings"
)

const (
	RoleAsker   = "asker"
	RoleAuditor = "auditor"
)

var knownRoles = []string{RoleAsker, RoleAuditor}

// Identity is the caller resolved from an API key. Principal is recorded in
// the audit log next to every question the caller asks.
type Identity struct {
	Principal string
	Roles     []string
}

func (i Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role)
}

type APIKeyValidator interface {
	Validate(ctx context.Context, apiKey string) (Identity, bool)
}

// StaticAPIKeyValidator holds keys from configuration. Keys are kept only as
// SHA-256 digests.
type StaticAPIKeyValidator struct {
	keys map[[sha256.Size]byte]Identity
}

// NewStaticAPIKeyValidator parses "key:principal:role|role" entries separated
// by commas. Roles must be asker or auditor.
func NewStaticAPIKeyValidator(spec string) (*StaticAPIKeyValidator, error) {
	validator := &StaticAPIKeyValidator{keys: map[[sha256.Size]byte]Identity{}}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return validator, nil
	}

	for _, entry := range strings.Split(spec, ",") {
		key, principal, roles, err := parseEntry(entry)
		if err != nil {
			return nil, err
		}
		digest := sha256.Sum256([]byte(key))
		if existing, dup := validator.keys[digest]; dup {
			return nil, fmt.Errorf("duplicate static key for principals %q and %q", existing.Principal, principal)
		}
		validator.keys[digest] = Identity{Principal: principal, Roles: roles}
	}
	return validator, nil
}

func parseEntry(entry string) (string, string, []string, error) {
	parts := strings.Split(strings.TrimSpace(entry), ":")
	if len(parts) != 3 {
		return "", "", nil, fmt.Errorf("invalid static key entry: expected key:principal:role|role")
	}
	key := strings.TrimSpace(parts[0])
	principal := strings.TrimSpace(parts[1])
	if key == "" || principal == "" {
		return "", "", nil, fmt.Errorf("invalid static key entry for %q: empty key or principal", principal)
	}

	var roles []string
	for _, role := range strings.Split(parts[2], "|") {
		role = strings.ToLower(strings.TrimSpace(role))
		if role == "" {
			continue
		}
		if !slices.Contains(knownRoles, role) {
			return "", "", nil, fmt.Errorf("invalid static key entry for %q: unknown role %q", principal, role)
		}
		if !slices.Contains(roles, role) {
			roles = append(roles, role)
		}
	}
	if len(roles) == 0 {
		return "", "", nil, fmt.Errorf("invalid static key entry for %q: at least one role is required", principal)
	}
	slices.Sort(roles)
	return key, principal, roles, nil
}

func (v *StaticAPIKeyValidator) Validate(_ context.Context, apiKey string) (Identity, bool) {
	identity, ok := v.keys[sha256.Sum256([]byte(apiKey))]
	return identity, ok
}
