package response

import (
	"encoding/json"
	"net/http"
)

// envelope is the uniform JSON body for every API response
type envelope struct {
	Success  bool        `json:"success"`
	Messages []string    `json:"messages"`
	Result   interface{} `json:"result"`
}

// WriteResponse will write the result wrapped in the response envelope with 200
func WriteResponse(w http.ResponseWriter, r *http.Request, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(envelope{
		Success:  true,
		Messages: []string{},
		Result:   result,
	})
}

// WriteError will write the Error wrapped in the response envelope with its status code
func WriteError(w http.ResponseWriter, r *http.Request, e *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	messages := e.Messages
	if len(messages) == 0 && len(e.Message) > 0 {
		messages = []string{e.Message}
	}
	json.NewEncoder(w).Encode(envelope{
		Success:  false,
		Messages: messages,
		Result:   e.Result,
	})
}
