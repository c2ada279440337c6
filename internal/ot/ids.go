package ot

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/google/uuid"
)

// CreateOperationID returns an opaque, collision-free operation identifier.
// The teacher hand-rolled this with a SHA-256 prefix of a timestamp string
// (see the other_examples conflict-resolution service's generateOperationID);
// the pack's google/uuid dependency does the same job with a real
// collision-resistant generator.
func CreateOperationID() string {
	return "op_" + uuid.NewString()
}

// CreateSessionID returns an opaque, collision-free session identifier.
func CreateSessionID() string {
	return "sess_" + uuid.NewString()
}

// GenerateOTP returns a 12-character URL-safe OTP for the supplemental
// document gate (SPEC_FULL §12), adapted from the teacher's
// pkg/server/secret.go: 9 random bytes, base64 raw-URL encoded.
func GenerateOTP() string {
	b := make([]byte, 9)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
