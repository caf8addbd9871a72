package outcomes

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// PercentEncode applies RFC 5849 parameter encoding: unreserved characters
// pass through, everything else becomes uppercase %XX.
func PercentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') ||
			c == '-' || c == '.' || c == '_' || c == '~' {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// NormalizeURL produces the base string URI: lowercase scheme and host,
// default ports elided, query and fragment dropped, empty path written as "/".
func NormalizeURL(raw string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse outcome url: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	host := strings.ToLower(parsed.Hostname())
	port := parsed.Port()

	switch {
	case port == "":
	case scheme == "http" && port == "80":
	case scheme == "https" && port == "443":
	default:
		host = host + ":" + port
	}

	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}

	return scheme + "://" + host + path, nil
}

// SignatureBaseString builds METHOD&enc(url)&enc(params) with parameters
// encoded pairwise, sorted by encoded key then encoded value, and joined
// key=value with "&".
func SignatureBaseString(method, rawURL string, params map[string]string) (string, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return "", err
	}

	pairs := make([]string, 0, len(params))
	for key, value := range params {
		pairs = append(pairs, PercentEncode(key)+"="+PercentEncode(value))
	}
	sort.Strings(pairs)

	return strings.ToUpper(method) + "&" +
		PercentEncode(normalized) + "&" +
		PercentEncode(strings.Join(pairs, "&")), nil
}

// Sign computes the HMAC-SHA1 signature over the base string. The key is the
// encoded consumer secret followed by "&"; LTI 1.1 outcome calls carry no
// token secret.
func Sign(baseString, consumerSecret string) string {
	mac := hmac.New(sha1.New, []byte(PercentEncode(consumerSecret)+"&"))
	mac.Write([]byte(baseString))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// BodyHash computes the oauth_body_hash value for a request body.
func BodyHash(body []byte) string {
	sum := sha1.Sum(body)
	return base64.StdEncoding.EncodeToString(sum[:])
}
