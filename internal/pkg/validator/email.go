package validator

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

const (
	minPasswordLength = 8
	// bcrypt ignores input past 72 bytes.
	maxPasswordLength = 72
)

// NormalizeEmail lower-cases and trims an address and checks its syntax.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", errors.New("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", fmt.Errorf("invalid email %q", email)
	}
	at := strings.LastIndex(email, "@")
	if at <= 0 || !strings.Contains(email[at+1:], ".") {
		return "", fmt.Errorf("invalid email %q", email)
	}
	return email, nil
}

// InvitationEmails validates an invitation batch: non-empty, at most max
// entries, each address valid and unique after normalisation. The returned
// slice keeps the input order.
func InvitationEmails(emails []string, max int) ([]string, error) {
	if len(emails) == 0 {
		return nil, errors.New("emails must be non-empty")
	}
	if len(emails) > max {
		return nil, fmt.Errorf("at most %d emails per request", max)
	}
	seen := make(map[string]struct{}, len(emails))
	out := make([]string, 0, len(emails))
	for _, raw := range emails {
		email, err := NormalizeEmail(raw)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[email]; dup {
			return nil, errors.New("emails must be non-empty and unique")
		}
		seen[email] = struct{}{}
		out = append(out, email)
	}
	return out, nil
}

func Password(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	if len(password) > maxPasswordLength {
		return fmt.Errorf("password must be at most %d bytes", maxPasswordLength)
	}
	return nil
}
