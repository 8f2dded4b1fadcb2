/*
Package authsdk provides a Go client for the authd OAuth2/OpenID Connect
authorization server.

# Overview

The package implements the client side of every flow authd serves:
authorization code with PKCE, client credentials, refresh token rotation,
the RFC 8628 device flow, token introspection and revocation, and the
operational surface (bootstrap, client provisioning, MFA enrollment, key
rotation). It is also what the end-to-end test suite drives.

# SDKClient vs Session

The package is organized around two main types:

  - SDKClient: unauthenticated operations and the grant flows that create sessions
  - Session: authenticated operations with automatic token refresh

Create an SDKClient to interact with public endpoints and initiate
authentication flows:

	client := authsdk.NewSDKClient("https://auth.example.com")

	// Check service health
	health, err := client.GetLiveness(ctx)

	// Bootstrap the service (one-time setup)
	bootstrap, err := client.Bootstrap(ctx, token, req)

	// Authenticate to create a session
	session, err := client.AuthorizeAndExchange(ctx, clientID, clientSecret,
		redirectURI, username, password, scopes)

Use a Session for authenticated operations. Sessions automatically handle
token expiration and refresh:

	// Get user information (requires the openid scope)
	userInfo, err := session.GetUserInfo(ctx)

	// Provision a client (requires the admin scope)
	created, err := session.CreateClient(ctx, req)

# Authorization Code Flow with PKCE

The interactive flow runs against the authorize endpoint. The SDK generates
the PKCE pair, submits the resource owner's credentials, captures the code
from the redirect and exchanges it:

	session, err := client.AuthorizeAndExchange(ctx, clientID, clientSecret,
		"https://localhost/callback", username, password,
		[]string{"openid", "profile", "offline_access"})

When the user has TOTP enrolled the first submission returns
*MFARequiredError; complete the login with the 6-digit code:

	code, err := client.AuthorizeWithPassword(ctx, clientID, redirectURI,
		username, password, scopes, pkce)
	if mfaErr, ok := err.(*authsdk.MFARequiredError); ok {
		code, err = client.AuthorizeWithMFA(ctx, clientID, redirectURI,
			*mfaErr, totpCode, scopes, pkce)
	}

# Device Flow

A device with no browser starts the RFC 8628 flow, shows the user code, and
polls; a logged-in user approves from another device:

	auth, err := client.StartDeviceAuthorization(ctx, clientID, "", scopes)
	// display auth.UserCode and auth.VerificationURI ...
	tokens, err := client.DeviceCodeGrant(ctx, clientID, "", auth.DeviceCode)
	// err is ErrorCodeAuthorizationPending until the user decides

	// on the user's device:
	err = session.ApproveDevice(ctx, userCode, true)

# Machine-to-Machine

	session, err := client.AuthenticateWithClientCredentials(ctx, clientID,
		clientSecret, []string{"read", "write"})

# DPoP Sender Constraining

Setting the DPoP field binds every token the client obtains to a proof key
(RFC 9449). Sessions created from such a client sign a fresh proof for each
resource request:

	key, _ := dpopx.GenerateKey()
	proofer, _ := dpopx.NewProofer(key)
	client.DPoP = proofer
	session, _ := client.AuthenticateWithClientCredentials(ctx, id, secret, scopes)
	// session requests now carry Authorization: DPoP and a DPoP proof header

# Automatic Token Refresh

Sessions refresh access tokens transparently. All Session methods call
getValidToken() internally, which rotates the refresh token through the
token endpoint once the access token is within 30 seconds of expiry. Note
that authd rotates refresh tokens on every use: the token stored on the
session is replaced each refresh and the previous one is dead.

# Error Handling

HTTP-level failures surface as *OAuth2Error carrying the RFC 6749 error
code and description, so callers can branch on the protocol taxonomy:

	_, err := client.DeviceCodeGrant(ctx, clientID, "", deviceCode)
	var oauthErr *authsdk.OAuth2Error
	if errors.As(err, &oauthErr) && oauthErr.Code == authsdk.ErrorCodeAuthorizationPending {
		// keep polling
	}

MFARequiredError is returned from the authorize endpoint when a second
factor is needed.

# Thread Safety

Sessions are safe for concurrent use. All Session methods use read/write
locks to protect access to tokens and scopes. Multiple goroutines can share
a single Session and make authenticated requests concurrently.
*/
package authsdk
