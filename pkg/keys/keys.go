// Package keys derives idempotency and lock keys from a request identity.
//
// Keys have the form
//
//	idempotent:{prefix:}{identity}:{path}[#{token}]
//
// where every segment is escaped so that distinct inputs never produce the same key.
package keys

import (
	"fmt"
	"strings"

	"github.com/aretw0/idem/pkg/domain"
)

const (
	// Namespace is the leading segment of every idempotency key.
	Namespace = "idempotent"

	// LockNamespace is prepended to an idempotency key to name its admission lock.
	LockNamespace = "lock:"

	delimiter      = ":"
	tokenDelimiter = "#"
)

// segmentEscaper keeps both delimiters out of free-form segments.
// '%' is escaped too so the encoding stays reversible.
var segmentEscaper = strings.NewReplacer(
	"%", "%25",
	":", "%3A",
	"#", "%23",
)

// pathEscaper additionally maps path separators to '_' after escaping literal
// underscores, so "/a/b" and "/a_b" stay distinct.
var pathEscaper = strings.NewReplacer(
	"%", "%25",
	":", "%3A",
	"#", "%23",
	"_", "%5F",
	"/", "_",
)

// Build derives the idempotency key for identity calling path.
func Build(prefix, identity, path string) (string, error) {
	return BuildWithToken(prefix, identity, path, "")
}

// BuildWithToken is Build with an optional caller-supplied request token
// (e.g. the Idempotency-Key header) appended after '#'. A separate delimiter keeps
// keys with and without a prefix from aliasing keys with and without a token.
func BuildWithToken(prefix, identity, path, token string) (string, error) {
	if identity == "" {
		return "", fmt.Errorf("%w: caller identity is empty", domain.ErrInvalidKey)
	}
	if path == "" {
		return "", fmt.Errorf("%w: operation path is empty", domain.ErrInvalidKey)
	}

	parts := make([]string, 0, 4)
	parts = append(parts, Namespace)
	if prefix != "" {
		parts = append(parts, segmentEscaper.Replace(prefix))
	}
	parts = append(parts, segmentEscaper.Replace(identity), pathEscaper.Replace(path))
	key := strings.Join(parts, delimiter)
	if token != "" {
		key += tokenDelimiter + segmentEscaper.Replace(token)
	}
	return key, nil
}

// LockKey names the admission lock of an idempotency key.
func LockKey(key string) string {
	return LockNamespace + key
}

// NormalizePath returns the escaped form of path used inside keys.
func NormalizePath(path string) string {
	return pathEscaper.Replace(path)
}
