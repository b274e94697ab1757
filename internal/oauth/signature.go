package oauth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// No OAuth1 library appears in the corpus this daemon was grounded on, so
// request signing is hand-rolled against RFC 5849 using stdlib hmac/sha1.

// signParams holds the oauth_* parameters common to every signed request,
// plus any request-specific form/query parameters to include in the base
// string.
type signParams struct {
	consumerKey    string
	consumerSecret string
	token          string
	tokenSecret    string
	method         string
	rawURL         string
	extra          map[string]string
}

// sign computes the oauth_signature and returns the full set of oauth_*
// parameters (including the signature) ready to serialize into an
// Authorization header.
func sign(p signParams) (map[string]string, error) {
	nonce, err := nonce()
	if err != nil {
		return nil, fmt.Errorf("oauth: generate nonce: %w", err)
	}

	params := map[string]string{
		"oauth_consumer_key":     p.consumerKey,
		"oauth_nonce":            nonce,
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        strconv.FormatInt(time.Now().Unix(), 10),
		"oauth_version":          "1.0",
	}
	if p.token != "" {
		params["oauth_token"] = p.token
	}

	all := make(map[string]string, len(params)+len(p.extra))
	for k, v := range params {
		all[k] = v
	}
	for k, v := range p.extra {
		all[k] = v
	}

	base := signatureBase(p.method, p.rawURL, all)
	key := percentEncode(p.consumerSecret) + "&" + percentEncode(p.tokenSecret)
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(base))
	params["oauth_signature"] = base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return params, nil
}

// signatureBase builds the RFC 5849 signature base string: method,
// base URL, and percent-encoded, alphabetically-sorted parameters joined
// with '&', each component itself percent-encoded.
func signatureBase(method, rawURL string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, percentEncode(k)+"="+percentEncode(params[k]))
	}
	encodedParams := strings.Join(pairs, "&")

	return strings.Join([]string{
		strings.ToUpper(method),
		percentEncode(rawURL),
		percentEncode(encodedParams),
	}, "&")
}

// percentEncode implements RFC 3986 unreserved-character encoding, which
// differs from url.QueryEscape in its treatment of space and a few
// reserved characters.
func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') ||
			c == '-' || c == '.' || c == '_' || c == '~' {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func nonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// authorizationHeader renders signed oauth_* parameters into an
// Authorization: OAuth ... header value.
func authorizationHeader(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf(`%s="%s"`, k, url.QueryEscape(params[k])))
	}
	return "OAuth " + strings.Join(pairs, ", ")
}
