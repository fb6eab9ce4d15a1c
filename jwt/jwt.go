package jwt

import (
	"log"
	"net/http"
	"strings"
	"time"

	jwt "github.com/dgrijalva/jwt-go"
)

var expirationTime = 12 * time.Hour

// TODO: take the signing key from the environment before this runs anywhere
// that matters
var jwtKey = []byte("splitpot-dev-signing-key")

type claims struct {
	UserID int `json:"user_id"`
	jwt.StandardClaims
}

// CreateCookie creates a cookie containing a JWT token that is set to
// expire in expirationTime
func CreateCookie(userID int, cookieName string) http.Cookie {
	expiresAt := time.Now().Add(expirationTime)

	claims := &claims{
		UserID: userID,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: expiresAt.Unix(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(jwtKey)
	if err != nil {
		panic(err)
	}

	return http.Cookie{
		Name:     cookieName,
		Value:    tokenString,
		Expires:  expiresAt,
		HttpOnly: true,
		Path:     "/",
	}
}

// VerifyToken verifies a JWT token. If successful, the function returns
// (userID, true), if unsuccessful, it returns (0, false).
func VerifyToken(tokenString string) (int, bool) {
	claims := &claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return jwtKey, nil
	})
	if err != nil {
		if err == jwt.ErrSignatureInvalid {
			log.Println("Invalid signature")
			return 0, false
		}
		log.Println("Bad jwt token")
		return 0, false
	}

	if !token.Valid {
		log.Println("Invalid jwt token")
		return 0, false
	}

	return claims.UserID, true
}

// TokenFromRequest pulls the token from the named cookie, falling back to
// an "Authorization: Bearer" header for API clients that don't carry
// cookies. An empty string means no token was supplied.
func TokenFromRequest(r *http.Request, cookieName string) string {
	if c, err := r.Cookie(cookieName); err == nil {
		return c.Value
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
