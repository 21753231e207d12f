package facts

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// KeyFunc extracts the client identity a request is billed to.
type KeyFunc func(r *http.Request) string

// DefaultKeyFunc builds the standard identity chain: the subject of a
// verified bearer token when jwtSecret is set, then keyHeader, then the
// first X-Forwarded-For hop when trusted, then the peer address.
func DefaultKeyFunc(jwtSecret []byte, keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if len(jwtSecret) > 0 {
			if sub := bearerSubject(r, jwtSecret); sub != "" {
				return "sub:" + sub
			}
		}

		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			// first hop of X-Forwarded-For is the original client
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				parts := strings.Split(xff, ",")
				if len(parts) > 0 {
					if ip := strings.TrimSpace(parts[0]); ip != "" {
						return ip
					}
				}
			}
		}

		// fallback: RemoteAddr
		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// bearerSubject returns the subject of a valid HMAC-signed bearer token,
// or "" when there is none. An invalid token falls through to the weaker
// identity sources instead of failing the request: identity here feeds a
// budget key, not an authorization decision.
func bearerSubject(r *http.Request, secret []byte) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	raw := strings.TrimSpace(strings.TrimPrefix(auth, prefix))
	if raw == "" {
		return ""
	}

	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return ""
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ""
	}
	sub, _ := claims["sub"].(string)
	return sub
}
