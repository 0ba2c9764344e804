// Copyright (c) 2026 Kivora. All rights reserved.
// Author: dev@kivora.app

package identity

import (
	"context"
	"errors"
)

// # Provider Contract

// Provider sentinel errors. These are the ONLY resolution-adjacent errors
// that ever reach a caller, and only on the explicit sign-in action; the
// delivery layer maps each to a distinct user-facing message.
var (
	// ErrInvalidCredentials is the generic credential rejection.
	ErrInvalidCredentials = errors.New("identity: invalid credentials")

	// ErrUserNotFound means no provider account exists for the email.
	ErrUserNotFound = errors.New("identity: user not found")

	// ErrWrongPassword means the account exists but the password is wrong.
	ErrWrongPassword = errors.New("identity: wrong password")
)

// Provider is the external identity provider the session core subscribes to.
//
// The provider owns credential verification and nothing else: it asserts
// "this identity is signed in" (or out) on its event stream, and the
// [Manager] turns that fact into a canonical CRM user via the [Resolver].
type Provider interface {

	/*
		SignInWithPassword verifies credentials with the provider.

		Description: On success the provider emits the identity on its event
		stream; resolution happens there, never synchronously in this call.

		Parameters:
		  - context: context.Context
		  - email: string
		  - password: string

		Returns:
		  - error: ErrUserNotFound, ErrWrongPassword, ErrInvalidCredentials,
		    or transport failures
	*/
	SignInWithPassword(context context.Context, email, password string) error

	/*
		SignOut terminates the provider session.

		Description: The provider emits a nil identity on its event stream,
		which clears the published session state.

		Parameters:
		  - context: context.Context

		Returns:
		  - error: Transport failures
	*/
	SignOut(context context.Context) error

	/*
		Events returns the sign-in/out stream.

		Description: A non-nil value is a sign-in assertion; nil means signed
		out. The channel is closed when the provider shuts down.

		Returns:
		  - <-chan *RawIdentity: The event stream
	*/
	Events() <-chan *RawIdentity
}
