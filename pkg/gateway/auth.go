package gateway

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

const (
	challengeBytes  = 32
	maxAuthAttempts = 3
)

// authenticator issues random challenges and checks HMAC-SHA256 signatures
// over them with the gateway's shared secret.
type authenticator struct {
	secret []byte
}

func newAuthenticator(sharedSecret string) *authenticator {
	return &authenticator{secret: []byte(sharedSecret)}
}

// challenge returns a fresh hex-encoded random challenge.
func (a *authenticator) challenge() (string, error) {
	buf := make([]byte, challengeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate challenge: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// sign computes the signature a holder of the shared secret would produce
// for the given challenge.
func (a *authenticator) sign(challenge string) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(challenge))
	return hex.EncodeToString(mac.Sum(nil))
}

// verify compares in constant time.
func (a *authenticator) verify(challenge, signature string) bool {
	return subtle.ConstantTimeCompare([]byte(a.sign(challenge)), []byte(signature)) == 1
}

// authenticate resolves one auth.response for the client. After
// maxAuthAttempts failed signatures the result is marked Locked and the
// caller drops the connection.
func (a *authenticator) authenticate(client *Client, signature string) AuthResult {
	if client.Challenge == "" {
		return AuthResult{Event: "auth.failure", Message: "no pending challenge"}
	}

	if !a.verify(client.Challenge, signature) {
		client.AuthAttempts++
		if client.AuthAttempts >= maxAuthAttempts {
			return AuthResult{Event: "auth.failure", Message: "too many failed attempts", Locked: true}
		}
		return AuthResult{Event: "auth.failure", Message: "invalid signature"}
	}

	client.Authenticated = true
	client.State = StateAuthenticated
	client.AuthAttempts = 0
	client.Challenge = ""

	return AuthResult{Event: "auth.success", Success: true}
}
