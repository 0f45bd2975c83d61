package flow

import (
	"fmt"
	"net/url"
)

// CallbackParams are the query parameters the identity provider appends to the
// redirect URI
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// ParseCallback extracts callback parameters from a query
func ParseCallback(values url.Values) CallbackParams {
	return CallbackParams{
		Code:             values.Get("code"),
		State:            values.Get("state"),
		Error:            values.Get("error"),
		ErrorDescription: values.Get("error_description"),
	}
}

// ParseCallbackURL extracts callback parameters from a full callback URL
func ParseCallbackURL(rawURL string) (CallbackParams, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return CallbackParams{}, fmt.Errorf("%w: malformed callback URL: %v", ErrCallbackValidation, err)
	}
	return ParseCallback(u.Query()), nil
}
