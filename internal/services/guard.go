package services

import (
	"context"
	"errors"
	"strings"

	"school-auth/internal/metrics"
	"school-auth/internal/models"
)

type PolicyMode int

const (
	// ModeAny passes when the principal's role is one of the listed roles.
	ModeAny PolicyMode = iota
	// ModeAll passes when the principal's role equals every listed role,
	// so it only passes for a list naming a single role.
	ModeAll
)

func (m PolicyMode) String() string {
	if m == ModeAll {
		return "all"
	}
	return "any"
}

// Policy is a role requirement. A policy with no roles admits any
// authenticated principal.
type Policy struct {
	Roles []models.RoleName
	Mode  PolicyMode
}

func AnyOf(roles ...models.RoleName) Policy {
	return Policy{Roles: roles, Mode: ModeAny}
}

func AllOf(roles ...models.RoleName) Policy {
	return Policy{Roles: roles, Mode: ModeAll}
}

func (p Policy) allows(role models.RoleName) bool {
	if len(p.Roles) == 0 {
		return true
	}
	switch p.Mode {
	case ModeAll:
		for _, r := range p.Roles {
			if r != role {
				return false
			}
		}
		return true
	default:
		for _, r := range p.Roles {
			if r == role {
				return true
			}
		}
		return false
	}
}

// PermissionResolver maps a role to the names of its permissions.
type PermissionResolver interface {
	PermissionNamesForRole(ctx context.Context, role models.RoleName) ([]string, error)
}

// Guard authenticates bearer tokens and enforces role and permission
// policies. It trusts the token alone and never reads the session table,
// so an invalidated session keeps working until its access token expires.
// The admin role passes every check.
type Guard struct {
	tokens   *TokenService
	resolver PermissionResolver
}

func NewGuard(tokens *TokenService, resolver PermissionResolver) *Guard {
	return &Guard{tokens: tokens, resolver: resolver}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", ErrNoToken
	}
	return parts[1], nil
}

// Authenticate returns the principal of the header's access token.
// Errors are ErrNoToken, ErrTokenInvalid or ErrTokenExpired.
func (g *Guard) Authenticate(header string) (*Principal, error) {
	token, err := BearerToken(header)
	if err != nil {
		metrics.GuardDenials.WithLabelValues("no_token").Inc()
		return nil, err
	}

	claims, err := g.tokens.VerifyAccess(token)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			metrics.GuardDenials.WithLabelValues("expired").Inc()
			return nil, ErrTokenExpired
		}
		metrics.GuardDenials.WithLabelValues("invalid").Inc()
		return nil, ErrTokenInvalid
	}

	p := claims.Principal()
	return &p, nil
}

// Authorize checks p against policy. A denial is a *RoleDeniedError.
func (g *Guard) Authorize(p *Principal, policy Policy) error {
	if p.Role.IsAdmin() || policy.allows(p.Role) {
		return nil
	}

	metrics.GuardDenials.WithLabelValues("role").Inc()
	required := make([]string, 0, len(policy.Roles))
	for _, r := range policy.Roles {
		required = append(required, r.String())
	}
	return &RoleDeniedError{Required: required, Actual: p.Role.String(), Mode: policy.Mode}
}

// Check authenticates header and authorizes the result against policy.
func (g *Guard) Check(header string, policy Policy) (*Principal, error) {
	p, err := g.Authenticate(header)
	if err != nil {
		return nil, err
	}
	if err := g.Authorize(p, policy); err != nil {
		return nil, err
	}
	return p, nil
}

// AuthorizePermission checks that p's role grants permission.
func (g *Guard) AuthorizePermission(ctx context.Context, p *Principal, permission string) error {
	if p.Role.IsAdmin() {
		return nil
	}

	names, err := g.resolver.PermissionNamesForRole(ctx, p.Role)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == permission {
			return nil
		}
	}

	metrics.GuardDenials.WithLabelValues("permission").Inc()
	return &PermissionDeniedError{Permission: permission, Role: p.Role.String()}
}
