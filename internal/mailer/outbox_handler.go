package mailer

import (
	"encoding/json"
	"net/http"
)

const devOutboxNote = "DEV MODE ONLY"

type outboxResponse struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body"`
	Note     string `json:"note"`
}

// ServeHTTP returns the latest message captured for ?email=. Only mounted when the dev outbox is enabled.
func (o *Outbox) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	addr := r.URL.Query().Get("email")
	if addr == "" {
		http.Error(w, "email is required", http.StatusBadRequest)
		return
	}
	msg, ok := o.Latest(addr)
	if !ok {
		http.Error(w, "no message for recipient", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(outboxResponse{To: msg.To, Subject: msg.Subject, HTMLBody: msg.HTMLBody, Note: devOutboxNote})
}
