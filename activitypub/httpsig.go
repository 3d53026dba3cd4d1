package activitypub

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/deemkeen/pubcore/domain"
	"github.com/deemkeen/pubcore/util"
	"github.com/go-fed/httpsig"
)

// SignedHeaderNames lists what the signature covers, in signing order.
const SignedHeaderNames = "(request-target) host date digest"

// Signer produces a base64 RSA-SHA256 signature. *domain.User implements it.
type Signer interface {
	Sign(stringToSign string) (string, error)
}

var _ Signer = (*domain.User)(nil)

// BuildSigningString returns the canonical string peers re-derive to verify
// a delivery. Field order and lowercase names are part of the wire format.
func BuildSigningString(targetHost string, requestPath string, digestBase64 string, dateHeader string) string {
	return fmt.Sprintf("(request-target): post %s\nhost: %s\ndate: %s\ndigest: SHA-256=%s",
		requestPath, targetHost, dateHeader, digestBase64)
}

// BuildSignatureHeader formats the value of the Signature header.
func BuildSignatureHeader(keyID string, signatureBase64 string) string {
	return fmt.Sprintf(`keyId="%s",algorithm="rsa-sha256",headers="%s",signature="%s"`,
		keyID, SignedHeaderNames, signatureBase64)
}

// Digest is the base64 SHA-256 of the exact body bytes.
func Digest(body []byte) string {
	hash := sha256.Sum256(body)
	return base64.StdEncoding.EncodeToString(hash[:])
}

// SignedHeaders signs body for a POST to requestPath on targetHost and returns
// the complete header set of the request.
func SignedHeaders(signer Signer, keyID string, targetHost string, requestPath string, body []byte, now time.Time) (http.Header, error) {
	digest := Digest(body)
	date := now.UTC().Format(http.TimeFormat)

	signature, err := signer.Sign(BuildSigningString(targetHost, requestPath, digest, date))
	if err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}

	h := http.Header{}
	h.Set("Host", targetHost)
	h.Set("Date", date)
	h.Set("Digest", "SHA-256="+digest)
	h.Set("Signature", BuildSignatureHeader(keyID, signature))
	h.Set("Content-Type", domain.ContentType)
	h.Set("Accept", domain.ContentType)
	return h, nil
}

// VerifyRequest verifies the HTTP signature on an incoming request
// Returns the actor URI if valid, error otherwise
func VerifyRequest(req *http.Request, publicKeyPem string) (string, error) {
	// the server moves Host out of the header map
	if req.Header.Get("Host") == "" && req.Host != "" {
		req = req.Clone(req.Context())
		req.Header.Set("Host", req.Host)
	}

	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", fmt.Errorf("failed to create verifier: %w", err)
	}

	pubKey, err := util.ParsePublicKey(publicKeyPem)
	if err != nil {
		return "", err
	}

	if err := verifier.Verify(pubKey, httpsig.RSA_SHA256); err != nil {
		return "", fmt.Errorf("signature verification failed: %w", err)
	}

	// keyId is usually "https://example.com/@alice#main-key"
	actorURI := strings.Split(verifier.KeyId(), "#")[0]

	return actorURI, nil
}

// KeyOwner returns the actor URI named by the keyId of a Signature header.
func KeyOwner(req *http.Request) (string, error) {
	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", fmt.Errorf("failed to read signature: %w", err)
	}
	return strings.Split(verifier.KeyId(), "#")[0], nil
}
