package service

import (
	"fmt"
	"strings"
)

// NormalizePhoneNumber converts a Kenyan mobile number to the 2547XXXXXXXX / 2541XXXXXXXX form
// the gateway expects. Accepted inputs: 07.., 01.., 7.., 1.., 254.., +254.., with spaces or dashes.
func NormalizePhoneNumber(raw string) (string, error) {
	s := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "+")

	switch {
	case strings.HasPrefix(s, "254"):
		s = s[3:]
	case strings.HasPrefix(s, "0"):
		s = s[1:]
	}

	if len(s) != 9 || (s[0] != '7' && s[0] != '1') {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhoneNumber, raw)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: %q", ErrInvalidPhoneNumber, raw)
		}
	}
	return "254" + s, nil
}
