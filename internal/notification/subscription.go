package notification

import (
	"bytes"
	"encoding/json"
	"net/url"
	"sort"
)

// Subscription is the single callback registration of a gateway instance.
// Notifications are POSTed to URL with Headers added to the request.
type Subscription struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

// clone returns a deep copy so callers never share the stored header map.
func (s Subscription) clone() Subscription {
	headers := make(map[string]string, len(s.Headers))
	for k, v := range s.Headers {
		headers[k] = v
	}
	return Subscription{URL: s.URL, Headers: headers}
}

// ParseSubscription validates a subscription request body.
//
// Checks run in a fixed order and the first failure is returned:
// empty body, non-object body, missing url or headers, unexpected keys,
// headers not an object, url not a string, a header value not a string,
// and finally url not an absolute URL.
func ParseSubscription(body []byte) (Subscription, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return Subscription{}, &ValidationError{Kind: KindMissingBody}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return Subscription{}, &ValidationError{Kind: KindMalformedBody}
	}

	rawURL, hasURL := fields[FieldURL]
	rawHeaders, hasHeaders := fields[FieldHeaders]
	if !hasURL {
		return Subscription{}, &ValidationError{Kind: KindMissingField, Field: FieldURL}
	}
	if !hasHeaders {
		return Subscription{}, &ValidationError{Kind: KindMissingField, Field: FieldHeaders}
	}
	if extra := unknownField(fields); extra != "" {
		return Subscription{}, &ValidationError{Kind: KindUnknownField, Field: extra}
	}

	var headerValues map[string]json.RawMessage
	if err := json.Unmarshal(rawHeaders, &headerValues); err != nil || headerValues == nil {
		return Subscription{}, &ValidationError{Kind: KindWrongType, Field: FieldHeaders}
	}

	var target string
	if err := json.Unmarshal(rawURL, &target); err != nil || isNull(rawURL) {
		return Subscription{}, &ValidationError{Kind: KindWrongType, Field: FieldURL}
	}

	headers := make(map[string]string, len(headerValues))
	for name, raw := range headerValues {
		var v string
		if err := json.Unmarshal(raw, &v); err != nil || isNull(raw) {
			return Subscription{}, &ValidationError{Kind: KindWrongType, Field: FieldHeaderValue}
		}
		headers[name] = v
	}

	u, err := url.Parse(target)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return Subscription{}, &ValidationError{Kind: KindInvalidValue, Field: FieldURL}
	}

	return Subscription{URL: target, Headers: headers}, nil
}

// unknownField returns the first key other than url and headers, in
// sorted order so the reported field is deterministic.
func unknownField(fields map[string]json.RawMessage) string {
	var extra []string
	for k := range fields {
		if k != FieldURL && k != FieldHeaders {
			extra = append(extra, k)
		}
	}
	if len(extra) == 0 {
		return ""
	}
	sort.Strings(extra)
	return extra[0]
}

// isNull reports a JSON null, which json.Unmarshal accepts into a string
// without error.
func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
