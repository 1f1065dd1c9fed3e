package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jaevor/go-nanoid"
)

const issuer = "lab-sessions"

type AppClaims struct {
	UserID   int64             `json:"user_id"`
	Username string            `json:"username"`
	Roles    []string          `json:"roles,omitempty"`
	Extra    map[string]string `json:"ext,omitempty"`
	jwt.RegisteredClaims
}

func (c *AppClaims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// JWTIssuer signs HS256 access tokens.
type JWTIssuer struct {
	secret  []byte
	ttl     time.Duration
	now     func() time.Time
	tokenID func() string
}

func NewJWTIssuer(secret string, ttl time.Duration) (*JWTIssuer, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret must not be empty")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	generateID, err := nanoid.Standard(21)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize nanoid generator: %w", err)
	}
	return &JWTIssuer{secret: []byte(secret), ttl: ttl, now: time.Now, tokenID: generateID}, nil
}

// Issue signs a token for userID. The "username" entry of claims becomes the
// username claim; every other entry is carried under "ext".
func (i *JWTIssuer) Issue(userID int64, roles []string, claims map[string]string) (string, time.Time, error) {
	now := i.now()
	expirationTime := now.Add(i.ttl)

	extra := make(map[string]string, len(claims))
	for k, v := range claims {
		if k != "username" {
			extra[k] = v
		}
	}
	if len(extra) == 0 {
		extra = nil
	}

	appClaims := &AppClaims{
		UserID:   userID,
		Username: claims["username"],
		Roles:    roles,
		Extra:    extra,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        i.tokenID(),
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, appClaims)
	tokenString, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expirationTime, nil
}

func (i *JWTIssuer) Verify(tokenString string) (*AppClaims, error) {
	return VerifyJWT(tokenString, string(i.secret))
}

func VerifyJWT(tokenString, secret string) (*AppClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*AppClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, jwt.ErrInvalidKey
}
