// Package profile validates and normalizes user profile inputs.
package profile

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

const (
	maxDisplayNameLength = 64
	maxPhotoURLLength    = 2048
)

// Normalized stores validated profile field values.
type Normalized struct {
	UID         string
	DisplayName string
	PhotoURL    string
	Email       string
}

// Normalize validates and trims user-supplied profile values.
func Normalize(uid string, displayName string, photoURL string, email string) (Normalized, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return Normalized{}, fmt.Errorf("user id is required")
	}
	if strings.Contains(uid, "/") {
		return Normalized{}, fmt.Errorf("user id must not contain '/'")
	}

	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return Normalized{}, fmt.Errorf("display name is required")
	}
	if utf8.RuneCountInString(displayName) > maxDisplayNameLength {
		return Normalized{}, fmt.Errorf("display name must be at most %d characters", maxDisplayNameLength)
	}

	photoURL = strings.TrimSpace(photoURL)
	if photoURL != "" {
		if len(photoURL) > maxPhotoURLLength {
			return Normalized{}, fmt.Errorf("photo url must be at most %d bytes", maxPhotoURLLength)
		}
		parsed, err := url.Parse(photoURL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return Normalized{}, fmt.Errorf("photo url must be an absolute http(s) url")
		}
	}

	email = strings.TrimSpace(email)
	if email != "" && !strings.Contains(email, "@") {
		return Normalized{}, fmt.Errorf("email is invalid")
	}

	return Normalized{
		UID:         uid,
		DisplayName: displayName,
		PhotoURL:    photoURL,
		Email:       strings.ToLower(email),
	}, nil
}
