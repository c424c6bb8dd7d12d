package oauth1

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-marketplace/core"
)

// Reference vector from the OAuth Core 1.0 specification, appendix A.5.
const (
	refConsumerKey    = "dpf43f3p2l4k3l03"
	refConsumerSecret = "kd94hf93k423kf44"
	refToken          = "nnch734d00sl2jdk"
	refTokenSecret    = "pfkkdhi9sl3r4s00"
	refNonce          = "kllo9940pd9333jh"
	refTimestamp      = int64(1191242096)
	refSignature      = "tR3+Ty81lMeYAr/Fid0kMTYa/WM="
)

func refParams() url.Values {
	return url.Values{
		"file":                   {"vacation.jpg"},
		"size":                   {"original"},
		"oauth_consumer_key":     {refConsumerKey},
		"oauth_token":            {refToken},
		"oauth_signature_method": {"HMAC-SHA1"},
		"oauth_timestamp":        {"1191242096"},
		"oauth_nonce":            {refNonce},
		"oauth_version":          {"1.0"},
	}
}

func TestPercentEncode(t *testing.T) {
	cases := map[string]string{
		"abcABC123":   "abcABC123",
		"-._~":        "-._~",
		"hello world": "hello%20world",
		"a+b":         "a%2Bb",
		"100%":        "100%25",
		"key=value&":  "key%3Dvalue%26",
		"☃":           "%E2%98%83",
		"":            "",
	}
	for input, want := range cases {
		if got := PercentEncode(input); got != want {
			t.Fatalf("PercentEncode(%q): expected %q, got %q", input, want, got)
		}
	}
}

func TestBaseStringMatchesReferenceVector(t *testing.T) {
	got := BaseString("get", "http://photos.example.net/photos", refParams())
	want := "GET&http%3A%2F%2Fphotos.example.net%2Fphotos&file%3Dvacation.jpg%26oauth_consumer_key%3Ddpf43f3p2l4k3l03%26oauth_nonce%3Dkllo9940pd9333jh%26oauth_signature_method%3DHMAC-SHA1%26oauth_timestamp%3D1191242096%26oauth_token%3Dnnch734d00sl2jdk%26oauth_version%3D1.0%26size%3Doriginal"
	if got != want {
		t.Fatalf("base string mismatch:\n got: %s\nwant: %s", got, want)
	}
}

func TestSignBaseStringMatchesReferenceVector(t *testing.T) {
	base := BaseString("GET", "http://photos.example.net/photos", refParams())
	key := SigningKey(refConsumerSecret, refTokenSecret)
	if key != "kd94hf93k423kf44&pfkkdhi9sl3r4s00" {
		t.Fatalf("unexpected signing key %q", key)
	}
	if got := SignBaseString(base, key); got != refSignature {
		t.Fatalf("expected signature %q, got %q", refSignature, got)
	}
}

func TestSigningKeyWithEmptyTokenSecret(t *testing.T) {
	if got := SigningKey("secret", ""); got != "secret&" {
		t.Fatalf("expected trailing separator, got %q", got)
	}
}

func TestSignAttachesAuthorizationHeader(t *testing.T) {
	signer := &Signer{
		Nonce: func() string { return refNonce },
		Now:   func() time.Time { return time.Unix(refTimestamp, 0) },
	}
	req, err := http.NewRequest(http.MethodGet, "http://photos.example.net/photos?file=vacation.jpg&size=original", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	cred := core.Credentials{
		ConsumerKey:    refConsumerKey,
		ConsumerSecret: refConsumerSecret,
		TokenValue:     refToken,
		TokenSecret:    refTokenSecret,
	}

	if err := signer.Sign(context.Background(), req, cred); err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	header := req.Header.Get("Authorization")
	if !strings.HasPrefix(header, "OAuth ") {
		t.Fatalf("expected OAuth header, got %q", header)
	}
	if !strings.Contains(header, `oauth_signature="tR3%2BTy81lMeYAr%2FFid0kMTYa%2FWM%3D"`) {
		t.Fatalf("expected reference signature in header, got %q", header)
	}

	wantOrder := []string{
		"oauth_consumer_key",
		"oauth_token",
		"oauth_signature_method",
		"oauth_timestamp",
		"oauth_nonce",
		"oauth_version",
		"oauth_signature",
	}
	last := -1
	for _, key := range wantOrder {
		idx := strings.Index(header, key+"=")
		if idx < 0 {
			t.Fatalf("expected %s in header %q", key, header)
		}
		if idx < last {
			t.Fatalf("expected %s after previous parameter in %q", key, header)
		}
		last = idx
	}
}

func TestSignIsDeterministic(t *testing.T) {
	build := func() *http.Request {
		req, err := http.NewRequest(http.MethodGet, "https://api.example.com/orders/555?detail=full", nil)
		if err != nil {
			t.Fatalf("build request: %v", err)
		}
		return req
	}
	signer := &Signer{
		Nonce: func() string { return "fixed-nonce" },
		Now:   func() time.Time { return time.Unix(1700000000, 0) },
	}
	cred := core.Credentials{
		ConsumerKey:    "ck",
		ConsumerSecret: "cs",
		TokenValue:     "tk",
		TokenSecret:    "ts",
	}

	first := build()
	second := build()
	if err := signer.Sign(context.Background(), first, cred); err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if err := signer.Sign(context.Background(), second, cred); err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if first.Header.Get("Authorization") != second.Header.Get("Authorization") {
		t.Fatal("expected identical signatures for identical inputs")
	}

	third := build()
	if err := signer.Sign(context.Background(), third, core.Credentials{
		ConsumerKey:    "ck",
		ConsumerSecret: "cs",
		TokenValue:     "tk",
		TokenSecret:    "other",
	}); err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if first.Header.Get("Authorization") == third.Header.Get("Authorization") {
		t.Fatal("expected token secret change to alter the signature")
	}
}

func TestSignOmitsTokenWhenAbsent(t *testing.T) {
	signer := &Signer{
		Nonce: func() string { return "fixed-nonce" },
		Now:   func() time.Time { return time.Unix(1700000000, 0) },
	}
	req, err := http.NewRequest(http.MethodGet, "https://api.example.com/orders", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if err := signer.Sign(context.Background(), req, core.Credentials{
		ConsumerKey:    "ck",
		ConsumerSecret: "cs",
	}); err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if strings.Contains(req.Header.Get("Authorization"), "oauth_token=") {
		t.Fatalf("expected header without oauth_token, got %q", req.Header.Get("Authorization"))
	}
}

func TestSignRejectsInvalidCredentials(t *testing.T) {
	signer := NewSigner()
	req, err := http.NewRequest(http.MethodGet, "https://api.example.com/orders", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if err := signer.Sign(context.Background(), req, core.Credentials{ConsumerKey: "ck"}); err == nil {
		t.Fatal("expected missing consumer secret to fail")
	}
}

func TestSignIncludesFormBodyParams(t *testing.T) {
	signer := &Signer{
		Nonce: func() string { return "fixed-nonce" },
		Now:   func() time.Time { return time.Unix(1700000000, 0) },
	}
	cred := core.Credentials{ConsumerKey: "ck", ConsumerSecret: "cs"}

	withBody, err := http.NewRequest(http.MethodPost, "https://api.example.com/orders", strings.NewReader("status=shipped"))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	withBody.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if err := signer.Sign(context.Background(), withBody, cred); err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	withOtherBody, err := http.NewRequest(http.MethodPost, "https://api.example.com/orders", strings.NewReader("status=cancelled"))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	withOtherBody.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if err := signer.Sign(context.Background(), withOtherBody, cred); err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	if withBody.Header.Get("Authorization") == withOtherBody.Header.Get("Authorization") {
		t.Fatal("expected form body to participate in the signature")
	}
}
