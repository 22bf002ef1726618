// Package webhook receives deliveries from both hosting platforms, checks
// their authenticity, decodes them and hands them to a Dispatcher.
package webhook

import (
	"crypto/subtle"
	"errors"

	"github.com/google/go-github/v56/github"
)

// ErrAuthentication is returned for deliveries whose signature or token
// does not match the shared secret.
var ErrAuthentication = errors.New("webhook authentication failed")

// Outcome is the result of checking a delivery against the shared secret.
type Outcome int

const (
	// Unsigned means the delivery carried no signature at all.
	Unsigned Outcome = iota
	// SignedValid means the signature matched.
	SignedValid
	// SignedInvalid means a signature was present but did not match.
	SignedInvalid
)

func (o Outcome) String() string {
	switch o {
	case Unsigned:
		return "unsigned"
	case SignedValid:
		return "signed-valid"
	case SignedInvalid:
		return "signed-invalid"
	default:
		return "unknown"
	}
}

// VerifyGitHub checks the X-Hub-Signature(-256) header value against the
// HMAC of body keyed with secret. The comparison is constant-time.
func VerifyGitHub(secret, body []byte, signature string) Outcome {
	if signature == "" {
		return Unsigned
	}
	if len(secret) == 0 {
		return SignedInvalid
	}
	if err := github.ValidateSignature(signature, body, secret); err != nil {
		return SignedInvalid
	}
	return SignedValid
}

// VerifyGitLab checks the X-Gitlab-Token header value against the shared
// secret. GitLab sends the secret itself rather than a digest.
func VerifyGitLab(secret, token string) Outcome {
	if token == "" {
		return Unsigned
	}
	if secret == "" {
		return SignedInvalid
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
		return SignedInvalid
	}
	return SignedValid
}
