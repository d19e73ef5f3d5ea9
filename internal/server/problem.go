package server

import (
	"encoding/json"
	"net/http"
)

// Problem type URIs used by the core server.
const (
	ProblemTypeInternal    = "https://winstat.dev/problems/internal-error"
	ProblemTypeRateLimited = "https://winstat.dev/problems/rate-limited"
	ProblemTypeUnavailable = "https://winstat.dev/problems/unavailable"
)

// Problem is an RFC 7807 problem document. RequestID ties the response to
// the server log line for the same request.
type Problem struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Instance  string `json:"instance,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteProblem answers r with a problem of the given type and status.
func WriteProblem(w http.ResponseWriter, r *http.Request, typ string, status int, detail string) {
	p := Problem{
		Type:      typ,
		Title:     http.StatusText(status),
		Status:    status,
		Detail:    detail,
		Instance:  r.URL.Path,
		RequestID: RequestID(r.Context()),
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(p)
}

func InternalError(w http.ResponseWriter, r *http.Request, detail string) {
	WriteProblem(w, r, ProblemTypeInternal, http.StatusInternalServerError, detail)
}

func RateLimited(w http.ResponseWriter, r *http.Request, detail string) {
	WriteProblem(w, r, ProblemTypeRateLimited, http.StatusTooManyRequests, detail)
}

func Unavailable(w http.ResponseWriter, r *http.Request, detail string) {
	WriteProblem(w, r, ProblemTypeUnavailable, http.StatusServiceUnavailable, detail)
}
