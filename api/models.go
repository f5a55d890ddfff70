package api

// TokenResponse is returned by GET /csrf.
type TokenResponse struct {
	Token     string `json:"token"`
	FormField string `json:"form_field"`
	Header    string `json:"header"`
}

// SessionResponse describes the caller's session. The CSRF token variable
// and the session id are never included.
type SessionResponse struct {
	CreatedAt int64             `json:"created_at"`
	ExpiresAt int64             `json:"expires_at"`
	Variables map[string]string `json:"variables"`
}

// PutVariableRequest is the JSON body for PUT /session/variables/{name}.
type PutVariableRequest struct {
	Value string `json:"value"`
}

// ErrorResponse is returned for all error cases.
type ErrorResponse struct {
	Error string `json:"error"`
}
