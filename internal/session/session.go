// Package session signs the service in to the remote store before any
// object access.
package session

import (
	"context"
	"fmt"
	"sync/atomic"

	"attendance_srv/internal/storage"

	"github.com/sirupsen/logrus"
)

// Authenticator ensures a signed-in session exists.
type Authenticator interface {
	EnsureSignedIn(ctx context.Context) error
}

// AuthError reports a failed sign-in.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("sign-in failed: %v", e.Err) }

func (e *AuthError) Unwrap() error { return e.Err }

// SignInFunc performs a single sign-in attempt.
type SignInFunc func(ctx context.Context) error

// Silent signs in once and remembers success. A failed attempt is not
// remembered, so the next call tries again; there is no retry loop.
type Silent struct {
	signIn SignInFunc
	logger *logrus.Logger

	// sem serialises attempts; waiters give up when their ctx is done.
	sem      chan struct{}
	signedIn atomic.Bool
}

// NewSilent wraps signIn. A nil signIn always succeeds.
func NewSilent(signIn SignInFunc, logger *logrus.Logger) *Silent {
	if signIn == nil {
		signIn = func(context.Context) error { return nil }
	}
	return &Silent{
		signIn: signIn,
		logger: logger,
		sem:    make(chan struct{}, 1),
	}
}

// ForStore signs in through the backend when it needs it (S3 credential
// resolution) and is a no-op for other backends.
func ForStore(store storage.ObjectStore, logger *logrus.Logger) *Silent {
	if signer, ok := storage.SignerOf(store); ok {
		return NewSilent(signer.SignIn, logger)
	}
	return NewSilent(nil, logger)
}

// EnsureSignedIn is idempotent. Concurrent callers wait for one attempt,
// each no longer than its own ctx allows.
func (s *Silent) EnsureSignedIn(ctx context.Context) error {
	if s.signedIn.Load() {
		return nil
	}

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return &AuthError{Err: ctx.Err()}
	}
	defer func() { <-s.sem }()

	if s.signedIn.Load() {
		return nil
	}
	if err := s.signIn(ctx); err != nil {
		return &AuthError{Err: err}
	}
	s.signedIn.Store(true)
	if s.logger != nil {
		s.logger.Info("Signed in to report storage")
	}
	return nil
}

// SignedIn reports whether a sign-in has succeeded.
func (s *Silent) SignedIn() bool {
	return s.signedIn.Load()
}
