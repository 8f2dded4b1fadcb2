package domain

// BootstrapData seeds the first admin user and the first confidential client
// on an empty database.
type BootstrapData struct {
	AdminUsername      string
	AdminPreferredName string
	AdminPassword      string
	ClientName         string
	ClientRedirectURIs []string
	ClientScopes       []string
}
