package session

import (
	"errors"
	"fmt"
	"net/url"
)

// ParseLinkCredentials extracts the access/refresh pair embedded in an
// identity service action link. Newer service versions place the pair in the
// link's query parameters, older ones in its fragment; both locations are
// checked, fragment second.
func ParseLinkCredentials(actionLink string) (Credentials, error) {
	parsed, err := url.Parse(actionLink)
	if err != nil {
		return Credentials{}, fmt.Errorf("invalid action link: %w", err)
	}

	if creds, ok := credentialsFromValues(parsed.Query()); ok {
		return creds, nil
	}

	if parsed.Fragment != "" {
		values, err := url.ParseQuery(parsed.Fragment)
		if err == nil {
			if creds, ok := credentialsFromValues(values); ok {
				return creds, nil
			}
		}
	}

	return Credentials{}, errors.New("action link carries no credential pair")
}

func credentialsFromValues(values url.Values) (Credentials, bool) {
	creds := Credentials{
		AccessToken:  values.Get("access_token"),
		RefreshToken: values.Get("refresh_token"),
	}
	return creds, creds.AccessToken != "" && creds.RefreshToken != ""
}
