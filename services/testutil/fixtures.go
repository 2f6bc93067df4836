package testutil

import (
	"time"

	"github.com/K-crypto-trader/crpypto-trader/libs/auth"
	"github.com/google/uuid"
)

// Seeded demo accounts; cmd/seed creates the same ids.
var (
	DemoUserID   = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	TraderUserID = uuid.MustParse("00000000-0000-0000-0000-000000000002")
)

// GenerateJWT issues a token for userID. Without scopes the token carries the
// default read and write scopes.
func GenerateJWT(userID uuid.UUID, secret []byte, ttl time.Duration, now time.Time, scopes ...string) (string, error) {
	return auth.IssueToken(userID.String(), secret, ttl, now, scopes...)
}
