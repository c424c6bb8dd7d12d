// Package oauth1 implements OAuth 1.0a request signing with HMAC-SHA1,
// covering percent encoding, signature base string construction, and the
// Authorization header layout marketplace providers verify byte-for-byte.
package oauth1

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-marketplace/core"
)

const (
	signatureMethod = "HMAC-SHA1"
	oauthVersion    = "1.0"
)

// PercentEncode applies the RFC 3986 encoding OAuth 1.0a requires: unreserved
// characters pass through, everything else becomes uppercase %XX. This is
// stricter than url.QueryEscape, which emits "+" for spaces.
func PercentEncode(value string) string {
	var b strings.Builder
	for i := 0; i < len(value); i++ {
		c := value[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteString(fmt.Sprintf("%%%02X", c))
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z':
		return true
	case c >= 'a' && c <= 'z':
		return true
	case c >= '0' && c <= '9':
		return true
	case c == '-' || c == '.' || c == '_' || c == '~':
		return true
	default:
		return false
	}
}

// BaseString builds the signature base string from the uppercased method, the
// scheme://host/path form of the URL, and every request parameter sorted by
// encoded name then encoded value.
func BaseString(method string, baseURL string, params url.Values) string {
	type pair struct {
		key   string
		value string
	}
	pairs := make([]pair, 0, len(params))
	for key, values := range params {
		for _, value := range values {
			pairs = append(pairs, pair{key: PercentEncode(key), value: PercentEncode(value)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].key != pairs[j].key {
			return pairs[i].key < pairs[j].key
		}
		return pairs[i].value < pairs[j].value
	})

	encoded := make([]string, 0, len(pairs))
	for _, p := range pairs {
		encoded = append(encoded, p.key+"="+p.value)
	}
	paramString := strings.Join(encoded, "&")

	return strings.Join([]string{
		strings.ToUpper(strings.TrimSpace(method)),
		PercentEncode(baseURL),
		PercentEncode(paramString),
	}, "&")
}

// SigningKey is encode(consumerSecret)&encode(tokenSecret); the token secret
// may be empty but the separator is always present.
func SigningKey(consumerSecret string, tokenSecret string) string {
	return PercentEncode(consumerSecret) + "&" + PercentEncode(tokenSecret)
}

// SignBaseString computes base64(HMAC-SHA1(key, baseString)).
func SignBaseString(baseString string, key string) string {
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(baseString))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Signer signs outbound requests in place by attaching an OAuth 1.0a
// Authorization header. Nonce and Now are overridable for deterministic
// signatures in tests.
type Signer struct {
	Nonce func() string
	Now   func() time.Time
}

func NewSigner() *Signer {
	return &Signer{}
}

func (s *Signer) Sign(_ context.Context, req *http.Request, cred core.Credentials) error {
	if s == nil {
		return fmt.Errorf("oauth1: signer is not configured")
	}
	if req == nil {
		return fmt.Errorf("oauth1: request is required")
	}
	if req.URL == nil {
		return fmt.Errorf("oauth1: request URL is required")
	}
	if err := cred.Validate(); err != nil {
		return err
	}

	oauthParams := map[string]string{
		"oauth_consumer_key":     cred.ConsumerKey,
		"oauth_signature_method": signatureMethod,
		"oauth_timestamp":        strconv.FormatInt(s.now().Unix(), 10),
		"oauth_nonce":            s.nonce(),
		"oauth_version":          oauthVersion,
	}
	if strings.TrimSpace(cred.TokenValue) != "" {
		oauthParams["oauth_token"] = cred.TokenValue
	}

	params := url.Values{}
	for key, values := range req.URL.Query() {
		for _, value := range values {
			params.Add(key, value)
		}
	}
	if formParams, err := formBodyParams(req); err != nil {
		return err
	} else {
		for key, values := range formParams {
			for _, value := range values {
				params.Add(key, value)
			}
		}
	}
	for key, value := range oauthParams {
		params.Set(key, value)
	}

	baseString := BaseString(req.Method, requestBaseURL(req.URL), params)
	signature := SignBaseString(baseString, SigningKey(cred.ConsumerSecret, cred.TokenSecret))
	oauthParams["oauth_signature"] = signature

	req.Header.Set("Authorization", AuthorizationHeader(oauthParams))
	return nil
}

// formBodyParams returns the decoded form parameters when the body is
// form-encoded; those participate in the signature per RFC 5849 §3.4.1.3. The
// body is restored for the transport to send.
func formBodyParams(req *http.Request) (url.Values, error) {
	contentType := strings.ToLower(strings.TrimSpace(req.Header.Get("Content-Type")))
	if !strings.HasPrefix(contentType, "application/x-www-form-urlencoded") {
		return nil, nil
	}
	if req.Body == nil {
		return nil, nil
	}
	raw, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("oauth1: read form body: %w", err)
	}
	req.Body.Close()
	req.Body = io.NopCloser(strings.NewReader(string(raw)))
	values, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, fmt.Errorf("oauth1: parse form body: %w", err)
	}
	return values, nil
}

func requestBaseURL(u *url.URL) string {
	base := *u
	base.RawQuery = ""
	base.Fragment = ""
	base.RawFragment = ""
	return base.String()
}

// AuthorizationHeader renders the OAuth header with its parameters in the
// canonical order providers document: consumer key, token, signature method,
// timestamp, nonce, version, signature. Values are percent encoded and
// double-quoted.
func AuthorizationHeader(oauthParams map[string]string) string {
	order := []string{
		"oauth_consumer_key",
		"oauth_token",
		"oauth_signature_method",
		"oauth_timestamp",
		"oauth_nonce",
		"oauth_version",
		"oauth_signature",
	}
	parts := make([]string, 0, len(order))
	for _, key := range order {
		value, ok := oauthParams[key]
		if !ok {
			continue
		}
		parts = append(parts, key+"=\""+PercentEncode(value)+"\"")
	}
	return "OAuth " + strings.Join(parts, ", ")
}

func (s *Signer) nonce() string {
	if s != nil && s.Nonce != nil {
		return s.Nonce()
	}
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(buf)
}

func (s *Signer) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

var _ core.Signer = (*Signer)(nil)
