// Package auth provides the credential hasher, the token service and the
// request-scoped identity consulted by resolvers.
package auth

import (
	"sync"

	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt cost used for stored passwords.
const DefaultCost = 12

// MaxPasswordBytes is the longest password bcrypt accepts, counted in bytes.
const MaxPasswordBytes = 72

// dummyPassword seeds the digest verified against when a login names an
// unknown email, so the response time does not reveal whether the account exists.
const dummyPassword = "blogql-no-such-user"

type Hasher struct {
	cost int

	dummyOnce sync.Once
	dummy     string
}

// NewHasher creates a Hasher using DefaultCost.
func NewHasher() *Hasher {
	return &Hasher{cost: DefaultCost}
}

// NewHasherWithCost creates a Hasher with an explicit bcrypt cost.
func NewHasherWithCost(cost int) *Hasher {
	return &Hasher{cost: cost}
}

// Hash produces a salted bcrypt digest of password.
func (h *Hasher) Hash(password string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", oops.Code("AUTH_HASH_FAILED").Wrap(err)
	}
	return string(digest), nil
}

// Verify reports whether password matches digest. A malformed digest never matches.
func (h *Hasher) Verify(password, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
}

// VerifyMissing burns the same work as Verify for a user that does not exist.
func (h *Hasher) VerifyMissing(password string) {
	h.dummyOnce.Do(func() {
		digest, _ := bcrypt.GenerateFromPassword([]byte(dummyPassword), h.cost)
		h.dummy = string(digest)
	})
	_ = h.Verify(password, h.dummy)
}
