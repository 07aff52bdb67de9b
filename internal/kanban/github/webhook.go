package github

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	gh "github.com/google/go-github/v82/github"
)

const signatureHeader = "X-Hub-Signature-256"

// VerifySignature checks an X-Hub-Signature-256 header against the request
// body. The comparison is constant-time.
func VerifySignature(secret string, body []byte, header string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Webhook receives issue events and hands changed issue refs to Notify.
// Delivery only nudges the next sync pass; the sync engine re-reads the
// board, so a lost webhook costs latency, not correctness.
type Webhook struct {
	Secret string
	Notify func(ref string)
	Logger *slog.Logger
}

func (w *Webhook) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

// ServeHTTP validates the signature and extracts the issue number from
// issues events. Other event types are acknowledged and dropped.
func (w *Webhook) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(rw, "read body", http.StatusBadRequest)
		return
	}
	if !VerifySignature(w.Secret, body, r.Header.Get(signatureHeader)) {
		w.logger().Warn("webhook signature mismatch", "remote", r.RemoteAddr)
		http.Error(rw, "invalid signature", http.StatusUnauthorized)
		return
	}

	event, err := gh.ParseWebHook(gh.WebHookType(r), body)
	if err != nil {
		http.Error(rw, "unsupported payload", http.StatusBadRequest)
		return
	}
	if ev, ok := event.(*gh.IssuesEvent); ok && w.Notify != nil {
		w.Notify(strconv.Itoa(ev.GetIssue().GetNumber()))
	}
	rw.WriteHeader(http.StatusNoContent)
}
