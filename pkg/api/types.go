package api

// LoginRequest is posted to /api/v1/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

// DismissRequest lists the proposal ids a network hides from its view.
type DismissRequest struct {
	IDs []uint `json:"ids"`
}

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error  string              `json:"error"`
	Fields map[string][]string `json:"fields,omitempty"` // per-field validation messages
}
