package session

import (
	"fmt"
	"os"
	"strings"
)

// EnvCredentials resolves credential references from environment
// variables of the form <Prefix><PLATFORM_ID>, e.g. LEAX_CRED_UPWORK.
// The value is treated as an opaque reference into the secret store;
// it is never logged.
type EnvCredentials struct {
	Prefix string
}

// Ref implements CredentialSource.
func (e EnvCredentials) Ref(platformID string) (string, error) {
	key := e.Prefix + strings.ToUpper(strings.ReplaceAll(platformID, "-", "_"))
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("credential ref %s not set", key)
	}
	return v, nil
}
