// Package auth orchestrates the authentication flows of the gateway.
//
// # Overview
//
// Service exposes seven operations. Each validates its input, makes exactly
// one identity provider call, feeds the response through the challenge state
// machine or the error mapper, and returns a domain result:
//
//   - RegisterUser: self-service sign-up
//   - AuthenticateUser: credential login, possibly returning a challenge
//   - ResetPassword: starts an out-of-band reset; always Accepted
//   - ConfirmPassword: completes a reset with the delivered code
//   - AdminCreateUser: creates an account with a generated temporary password
//   - AdminInitiateAuth: privileged login on a user's behalf
//   - RespondToChallenge: answers a pending challenge with a new password
//
// # Sessions
//
// The service keeps no state between requests. A ChallengeRequired result
// carries an AuthSession; the caller passes it back to RespondToChallenge
// unmodified:
//
//	result, err := svc.AuthenticateUser(ctx, auth.UserCredentials{
//		Username: "alice",
//		Password: password,
//	})
//	if err != nil {
//		return err
//	}
//	if result.Status == auth.StatusChallengeRequired {
//		result, err = svc.RespondToChallenge(ctx, "alice", *result.Session, newPassword, nil)
//	}
//
// # Errors
//
// Every error returned is an *autherr.Error. Use autherr.KindOf to branch on
// the kind; Message is safe to show to callers.
package auth
