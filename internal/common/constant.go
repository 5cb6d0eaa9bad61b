// Package common contains shared constants, path helpers and sentinel
// errors used by both the sync client and the document service.
package common

import "strings"

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on outbound requests.
const AccessTokenHeaderName = "access_token"

const userPathPrefix = "users/"

// UserPath returns the document path owned by userID.
func UserPath(userID string) string {
	return userPathPrefix + userID
}

// UserFromPath extracts the owner of a user path.
func UserFromPath(path string) (string, error) {
	id, ok := strings.CutPrefix(path, userPathPrefix)
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", ErrInvalidPath
	}
	return id, nil
}
