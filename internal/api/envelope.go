package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pavelanni/medcode/internal/validate"
)

const maxResponseBytes = 8 << 20

// envelope is the backend's response wrapper: {"success", "message", "data"}.
// Endpoints that answer with a bare object are decoded as a whole.
type envelope struct {
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
}

func newRequestError(req *http.Request, status int, body []byte) *RequestError {
	re := &RequestError{Method: req.Method, Path: req.URL.Path, Status: status}
	var env envelope
	if json.Unmarshal(body, &env) == nil {
		re.Message = env.Message
		if re.Message == "" {
			re.Message = env.Error
		}
	}
	return re
}

// decodeResponse turns a response into out, or into a *RequestError for non-2xx.
func decodeResponse(req *http.Request, resp *http.Response, out any) error {
	body, err := readBody(resp)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", req.Method, req.URL.Path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newRequestError(req, resp.StatusCode, body)
	}
	return decodeBody(body, out)
}

func decodeBody(body []byte, out any) error {
	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return fmt.Errorf("%w: empty body", ErrInvalidResponse)
	}
	var env envelope
	payload := body
	if err := json.Unmarshal(body, &env); err == nil && len(env.Data) > 0 && !bytes.Equal(env.Data, []byte("null")) {
		payload = env.Data
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if err := validate.Response(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

// messageOf extracts the backend message of a 2xx response, for endpoints that
// answer with nothing but a confirmation.
func messageOf(body []byte) string {
	var env envelope
	if json.Unmarshal(body, &env) != nil {
		return ""
	}
	return env.Message
}
