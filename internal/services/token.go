package services

import (
	"errors"
	"fmt"
	"time"

	"school-auth/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Principal is the authenticated identity attached to a request.
type Principal struct {
	ID       string          `json:"id"`
	Role     models.RoleName `json:"role"`
	Username string          `json:"username"`
	Email    string          `json:"email"`
}

// Claims is the JWT payload. Refresh tokens carry only the registered
// claims and the token type.
type Claims struct {
	TokenType string `json:"typ"`
	Role      string `json:"role,omitempty"`
	Username  string `json:"username,omitempty"`
	Email     string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Principal converts access token claims to a Principal.
func (c *Claims) Principal() Principal {
	return Principal{
		ID:       c.Subject,
		Role:     models.RoleName(c.Role),
		Username: c.Username,
		Email:    c.Email,
	}
}

type TokenService struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewTokenService(secret, issuer string) *TokenService {
	return &TokenService{
		secret: []byte(secret),
		issuer: issuer,
		now:    time.Now,
	}
}

// WithClock replaces the time source used for issuing and verifying.
func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	s.now = now
	return s
}

// IssueAccessToken signs an access token for p valid for ttl and returns
// it with its expiry.
func (s *TokenService) IssueAccessToken(p Principal, ttl time.Duration) (string, time.Time, error) {
	if p.ID == "" || !p.Role.Valid() {
		return "", time.Time{}, fmt.Errorf("%w: access token needs a subject and a known role", ErrInvalidArgument)
	}
	claims := &Claims{
		TokenType: TokenTypeAccess,
		Role:      p.Role.String(),
		Username:  p.Username,
		Email:     p.Email,
	}
	return s.sign(claims, p.ID, ttl)
}

// IssueRefreshToken signs a refresh token that names only the subject.
func (s *TokenService) IssueRefreshToken(subjectID string, ttl time.Duration) (string, time.Time, error) {
	if subjectID == "" {
		return "", time.Time{}, fmt.Errorf("%w: refresh token needs a subject", ErrInvalidArgument)
	}
	return s.sign(&Claims{TokenType: TokenTypeRefresh}, subjectID, ttl)
}

func (s *TokenService) sign(claims *Claims, subject string, ttl time.Duration) (string, time.Time, error) {
	now := s.now()
	expiresAt := jwt.NewNumericDate(now.Add(ttl))

	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subject,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: expiresAt,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt.Time, nil
}

// Verify checks the signature and expiry. It returns ErrTokenExpired for a
// well-formed token past its expiry and ErrTokenInvalid for anything else.
func (s *TokenService) Verify(tokenString string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
	)

	claims := &Claims{}
	_, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		if onlyExpired(err) {
			return claims, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// otherTokenErrors are the parse and claim failures jwt may join with
// ErrTokenExpired.
var otherTokenErrors = []error{
	jwt.ErrTokenMalformed,
	jwt.ErrTokenUnverifiable,
	jwt.ErrTokenSignatureInvalid,
	jwt.ErrTokenRequiredClaimMissing,
	jwt.ErrTokenInvalidAudience,
	jwt.ErrTokenUsedBeforeIssued,
	jwt.ErrTokenInvalidIssuer,
	jwt.ErrTokenInvalidSubject,
	jwt.ErrTokenNotValidYet,
	jwt.ErrTokenInvalidId,
}

// onlyExpired reports whether expiry is the sole reason err rejects a token.
func onlyExpired(err error) bool {
	if !errors.Is(err, jwt.ErrTokenExpired) {
		return false
	}
	for _, other := range otherTokenErrors {
		if errors.Is(err, other) {
			return false
		}
	}
	return true
}

// VerifyAccess is Verify restricted to access tokens with a known role.
// Expired access tokens still return their claims alongside ErrTokenExpired.
func (s *TokenService) VerifyAccess(tokenString string) (*Claims, error) {
	claims, err := s.Verify(tokenString)
	if claims != nil && (claims.TokenType != TokenTypeAccess || !models.RoleName(claims.Role).Valid()) {
		return nil, ErrTokenInvalid
	}
	return claims, err
}

// VerifyRefresh is Verify restricted to refresh tokens.
func (s *TokenService) VerifyRefresh(tokenString string) (*Claims, error) {
	claims, err := s.Verify(tokenString)
	if claims != nil && claims.TokenType != TokenTypeRefresh {
		return nil, ErrTokenInvalid
	}
	return claims, err
}
