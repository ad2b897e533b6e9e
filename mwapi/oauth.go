package mwapi

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// OAuthCredentials are the owner-only consumer keys issued by Special:OAuthConsumerRegistration.
type OAuthCredentials struct {
	ConsumerKey    string
	ConsumerSecret string
	TokenKey       string
	TokenSecret    string
}

// OAuthSigner produces OAuth 1.0a HMAC-SHA1 Authorization headers.
// Nonce and Now default to a random UUID and the wall clock; tests pin them.
type OAuthSigner struct {
	Credentials OAuthCredentials
	Nonce       func() string
	Now         func() time.Time
}

func NewOAuthSigner(cred OAuthCredentials) *OAuthSigner {
	return &OAuthSigner{Credentials: cred}
}

type oauthParam struct {
	key   string
	value string
}

// Authorization signs a request to rawURL carrying params (query and form fields together)
// and returns the Authorization header value.
func (s *OAuthSigner) Authorization(method, rawURL string, params url.Values) (string, error) {
	if s.Credentials.ConsumerKey == "" || s.Credentials.ConsumerSecret == "" {
		return "", &SigningError{Field: "oauth_consumer_key", Reason: "consumer key and secret are required"}
	}
	oauth := s.oauthParams()
	base, err := oauthBaseString(method, rawURL, params, oauth)
	if err != nil {
		return "", err
	}
	oauth = append(oauth, oauthParam{"oauth_signature", s.sign(base)})

	parts := make([]string, 0, len(oauth))
	for _, p := range oauth {
		parts = append(parts, oauthEscape(p.key)+`="`+oauthEscape(p.value)+`"`)
	}
	return "OAuth " + strings.Join(parts, ", "), nil
}

// BaseString returns the signature base string Authorization would sign
// for the same nonce and timestamp.
func (s *OAuthSigner) BaseString(method, rawURL string, params url.Values) (string, error) {
	return oauthBaseString(method, rawURL, params, s.oauthParams())
}

func (s *OAuthSigner) oauthParams() []oauthParam {
	nonce := s.Nonce
	if nonce == nil {
		nonce = defaultNonce
	}
	now := s.Now
	if now == nil {
		now = time.Now
	}
	out := []oauthParam{{"oauth_consumer_key", s.Credentials.ConsumerKey}}
	if s.Credentials.TokenKey != "" {
		out = append(out, oauthParam{"oauth_token", s.Credentials.TokenKey})
	}
	return append(out,
		oauthParam{"oauth_signature_method", "HMAC-SHA1"},
		oauthParam{"oauth_timestamp", strconv.FormatInt(now().Unix(), 10)},
		oauthParam{"oauth_nonce", nonce()},
		oauthParam{"oauth_version", "1.0"},
	)
}

func (s *OAuthSigner) sign(base string) string {
	key := oauthEscape(s.Credentials.ConsumerSecret) + "&" + oauthEscape(s.Credentials.TokenSecret)
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func defaultNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func oauthBaseString(method, rawURL string, params url.Values, oauth []oauthParam) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", &SigningError{Field: "url", Reason: err.Error()}
	}
	if u.Scheme == "" || u.Host == "" {
		return "", &SigningError{Field: "url", Reason: fmt.Sprintf("not an absolute URL: %q", rawURL)}
	}

	all := make([]oauthParam, 0, len(params)+len(oauth))
	collect := func(vs url.Values) error {
		for k, list := range vs {
			if err := validateSignable(k, k); err != nil {
				return err
			}
			for _, v := range list {
				if err := validateSignable(k, v); err != nil {
					return err
				}
				all = append(all, oauthParam{oauthEscape(k), oauthEscape(v)})
			}
		}
		return nil
	}
	if err := collect(u.Query()); err != nil {
		return "", err
	}
	if err := collect(params); err != nil {
		return "", err
	}
	for _, p := range oauth {
		all = append(all, oauthParam{oauthEscape(p.key), oauthEscape(p.value)})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].key == all[j].key {
			return all[i].value < all[j].value
		}
		return all[i].key < all[j].key
	})

	pairs := make([]string, len(all))
	for i, p := range all {
		pairs[i] = p.key + "=" + p.value
	}

	return strings.ToUpper(method) + "&" +
		oauthEscape(oauthBaseURL(u)) + "&" +
		oauthEscape(strings.Join(pairs, "&")), nil
}

// oauthBaseURL is scheme://host[:port]/path with default ports dropped.
func oauthBaseURL(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host += ":" + port
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return scheme + "://" + host + path
}

func validateSignable(field, v string) error {
	if !utf8.ValidString(v) {
		return &SigningError{Field: field, Reason: "value is not valid UTF-8"}
	}
	for _, r := range v {
		if r == '\t' || r == '\n' || r == '\r' {
			continue
		}
		if r < 0x20 || r == 0x7f {
			return &SigningError{Field: field, Reason: fmt.Sprintf("control character %U", r)}
		}
	}
	return nil
}

// oauthEscape percent-encodes everything outside RFC 3986 unreserved characters,
// which is stricter than url.QueryEscape (no '+' for spaces, '~' kept).
func oauthEscape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte("0123456789ABCDEF"[c>>4])
		b.WriteByte("0123456789ABCDEF"[c&15])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '-', c == '.', c == '_', c == '~':
		return true
	}
	return false
}
