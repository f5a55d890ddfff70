package csrf

import (
	"net/http"
	"strings"
	"time"

	"github.com/jmcleod/ironsession/crypto"
)

const DefaultCookieName = "ironsession_sid"

// CookieGateway reads and writes the session id carried by the client.
type CookieGateway interface {
	// SessionID returns the id sent by the client, if any and readable.
	SessionID(r *http.Request) (string, bool)
	SetSessionID(w http.ResponseWriter, r *http.Request, id string) error
	ClearSessionID(w http.ResponseWriter, r *http.Request)
}

// HTTPCookies carries the session id in an HttpOnly, SameSite=Strict
// cookie, optionally encrypted with a FieldCodec.
type HTTPCookies struct {
	name   string
	secure bool
	codec  crypto.FieldCodec
}

var _ CookieGateway = (*HTTPCookies)(nil)

type CookieOption func(*HTTPCookies)

// WithSecureCookies forces the Secure attribute even on plain HTTP requests.
func WithSecureCookies(secure bool) CookieOption {
	return func(c *HTTPCookies) {
		c.secure = secure
	}
}

// WithCookieCodec encrypts cookie values. The default stores them as-is.
func WithCookieCodec(codec crypto.FieldCodec) CookieOption {
	return func(c *HTTPCookies) {
		c.codec = codec
	}
}

func NewHTTPCookies(name string, opts ...CookieOption) *HTTPCookies {
	if name == "" {
		name = DefaultCookieName
	}
	c := &HTTPCookies{name: name, codec: crypto.PlainCodec{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HTTPCookies) Name() string {
	return c.name
}

// SessionID treats a cookie that fails to decrypt as absent.
func (c *HTTPCookies) SessionID(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(c.name)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	id, err := c.codec.Decrypt(cookie.Value)
	if err != nil || id == "" {
		return "", false
	}
	return id, true
}

func (c *HTTPCookies) SetSessionID(w http.ResponseWriter, r *http.Request, id string) error {
	value, err := c.codec.Encrypt(id)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure || RequestIsSecure(r),
		SameSite: http.SameSiteStrictMode,
	})
	return nil
}

func (c *HTTPCookies) ClearSessionID(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure || RequestIsSecure(r),
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

// RequestIsSecure returns true if the request arrived over TLS directly or
// via a TLS-terminating reverse proxy.
func RequestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}
