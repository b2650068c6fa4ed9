// Package identity carries the resolved caller subject through request
// contexts and reconciles the identifier variants the auth provider emits.
package identity

import (
	"context"
	"strings"
)

// DefaultSubject is the sentinel bucket for usage recorded without any
// caller identity. Ingest never hard-fails for lack of identity; callers
// that bill per user must always supply one.
const DefaultSubject = "default_user"

// SubjectPrefix is the provider prefix some tokens carry and others omit
// for the same logical identity.
const SubjectPrefix = "user_"

// SubjectContextKey is the request context key for the caller subject.
type SubjectContextKey struct{}

// WithSubject stores the caller subject in the context.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, SubjectContextKey{}, subject)
}

// SubjectFromContext returns the caller subject from context, if set.
func SubjectFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	subject, ok := ctx.Value(SubjectContextKey{}).(string)
	subject = strings.TrimSpace(subject)
	if !ok || subject == "" {
		return "", false
	}
	return subject, true
}

// Resolve picks the effective user identifier for an operation:
// explicit argument, then the context subject, then DefaultSubject.
func Resolve(ctx context.Context, explicit string) string {
	if v := strings.TrimSpace(explicit); v != "" {
		return v
	}
	if subject, ok := SubjectFromContext(ctx); ok {
		return subject
	}
	return DefaultSubject
}

// Candidates returns the ordered identifier variants to try when looking
// up a user's records: the identifier as supplied, the prefix-stripped
// form, and the prefixed form. Duplicates are dropped while preserving
// order, so lookups short-circuit correctly.
func Candidates(userID string) []string {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil
	}

	variants := []string{
		userID,
		strings.TrimPrefix(userID, SubjectPrefix),
		SubjectPrefix + strings.TrimPrefix(userID, SubjectPrefix),
	}

	seen := make(map[string]struct{}, len(variants))
	out := make([]string, 0, len(variants))
	for _, v := range variants {
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
