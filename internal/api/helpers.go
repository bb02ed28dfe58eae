package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/perchlabs/perch/internal/apierr"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// errBody is the error envelope shared by HTTP and WS responses.
type errBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errEnvelope(err error) map[string]errBody {
	e := apierr.From(err)
	return map[string]errBody{"error": {Code: e.Code(), Message: e.Message}}
}

func writeErr(w http.ResponseWriter, err error) {
	e := apierr.From(err)
	writeJSON(w, e.Status(), errEnvelope(e))
}

// decodeJSON reads a bounded JSON body into v. An empty body is an error;
// use decodeJSONOptional where the body may be omitted.
func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return apierr.InvalidRequestf("read body: %v", err)
	}
	if len(body) == 0 {
		return apierr.InvalidRequest("request body is empty")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return apierr.InvalidRequestf("invalid JSON: %v", err)
	}
	return nil
}

func jsonUnmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return apierr.InvalidRequestf("invalid JSON: %v", err)
	}
	return nil
}

// decodeJSONOptional is decodeJSON but treats an empty body as all-defaults.
func decodeJSONOptional(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return apierr.InvalidRequestf("read body: %v", err)
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return apierr.InvalidRequestf("invalid JSON: %v", err)
	}
	return nil
}
