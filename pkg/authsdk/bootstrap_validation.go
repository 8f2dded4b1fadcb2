package authsdk

import (
	"net/url"
	"regexp"
	"strings"
)

const (
	bootstrapRequiredReason = "required"
	bootstrapOnlyAlphanum   = "must only contain a-z, A-Z, 0-9, _ or -"
)

// Validate checks if the bootstrap request fields are valid.
// Returns a map of field names to error messages, or nil if all fields are valid.
// The server runs the same checks; validating here saves a round trip.
func (b BootstrapRequest) Validate() map[string]string {
	errs := make(map[string]string)

	reName := regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	reScope := regexp.MustCompile(`^[a-z][a-z0-9._-]*$`)

	b.validateUsername(errs, reName)
	b.validatePreferredName(errs)
	b.validatePassword(errs)
	b.validateClientName(errs, reName)
	b.validateRedirectURIs(errs)
	b.validateClientScopes(errs, reScope)

	if len(errs) == 0 {
		return nil
	}
	return errs
}

func (b BootstrapRequest) validateUsername(errs map[string]string, reName *regexp.Regexp) {
	username := strings.TrimSpace(b.AdminUsername)
	switch {
	case username == "":
		errs["admin_username"] = bootstrapRequiredReason
	case len(username) < 3 || len(username) > 32:
		errs["admin_username"] = "must be 3-32 characters"
	case !reName.MatchString(username):
		errs["admin_username"] = bootstrapOnlyAlphanum
	}
}

func (b BootstrapRequest) validatePreferredName(errs map[string]string) {
	pref := strings.TrimSpace(b.AdminPreferredName)
	switch {
	case pref == "":
		errs["admin_preferred_name"] = bootstrapRequiredReason
	case len(pref) > 64:
		errs["admin_preferred_name"] = "too long (max 64)"
	}
}

func (b BootstrapRequest) validatePassword(errs map[string]string) {
	pw := b.AdminPassword
	switch {
	case pw == "":
		errs["admin_password"] = bootstrapRequiredReason
	case len(pw) < 8:
		errs["admin_password"] = "too short (min 8)"
	case len(pw) > 128:
		errs["admin_password"] = "too long (max 128)"
	}
}

func (b BootstrapRequest) validateClientName(errs map[string]string, reName *regexp.Regexp) {
	cname := strings.TrimSpace(b.ClientName)
	switch {
	case cname == "":
		errs["client_name"] = bootstrapRequiredReason
	case len(cname) > 100:
		errs["client_name"] = "too long (max 100)"
	case !reName.MatchString(cname):
		errs["client_name"] = bootstrapOnlyAlphanum
	}
}

func (b BootstrapRequest) validateRedirectURIs(errs map[string]string) {
	for _, raw := range b.ClientRedirectURIs {
		u, err := url.Parse(raw)
		if err != nil || !u.IsAbs() || u.Host == "" {
			errs["client_redirect_uris"] = "every redirect URI must be absolute"
			return
		}
		if u.Fragment != "" {
			errs["client_redirect_uris"] = "redirect URIs must not carry a fragment"
			return
		}
	}
}

func (b BootstrapRequest) validateClientScopes(errs map[string]string, reScope *regexp.Regexp) {
	if len(b.ClientScopes) == 0 {
		return // the server falls back to its full default scope set
	}
	for _, scope := range b.ClientScopes {
		if !reScope.MatchString(scope) {
			errs["client_scopes"] = "scope names must be lowercase tokens (e.g. openid, read, admin)"
			return
		}
	}
}
