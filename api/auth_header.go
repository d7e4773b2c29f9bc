package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

// streamTokenParam carries the token for EventSource clients, which cannot
// set request headers.
const streamTokenParam = "token"

const bearerScheme = "Bearer"

// authorizationFor returns the Authorization value presented with req. On
// event streams a token query parameter stands in for a missing header.
func authorizationFor(req *http.Request, stream bool) string {
	if h := req.Header.Get(echo.HeaderAuthorization); h != "" {
		return h
	}
	if !stream {
		return ""
	}
	if token := req.URL.Query().Get(streamTokenParam); token != "" {
		return bearerScheme + " " + token
	}
	return ""
}

// parseBearer extracts the compact JWT from an Authorization value. The
// scheme is matched case-insensitively and the token needs three segments.
func parseBearer(h string) (string, error) {
	h = strings.TrimSpace(h)
	if h == "" {
		return "", errMissingAuthorization
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, bearerScheme) {
		return "", errBadAuthorization
	}
	token = strings.TrimSpace(token)
	if strings.Count(token, ".") != 2 || strings.ContainsAny(token, " \t") {
		return "", errBadAuthorization
	}
	return token, nil
}
