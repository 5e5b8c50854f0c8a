package gateway

import "crypto/subtle"

// SecretsEqual compares a received credential with the configured one in
// constant time. An empty value on either side never matches.
func SecretsEqual(received, expected string) bool {
	if received == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(received), []byte(expected)) == 1
}
