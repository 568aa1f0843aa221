package utils

// Contains reports whether value occurs in slice.
func Contains(slice []string, value string) bool {
	for i := range slice {
		if slice[i] == value {
			return true
		}
	}
	return false
}

// Mask hides the middle of a secret, keeping just enough of the ends to
// recognise which key is configured.
func Mask(secret string) string {
	switch {
	case len(secret) > 12:
		return secret[:8] + "****" + secret[len(secret)-4:]
	case len(secret) > 8:
		return secret[:4] + "****" + secret[len(secret)-2:]
	default:
		return "****"
	}
}
