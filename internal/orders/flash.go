package orders

import (
	"encoding/gob"
	"log/slog"
	"net/http"

	"github.com/gorilla/sessions"
)

const flashSessionName = "designden-flash"

func init() {
	gob.Register(FlashMessage{})
}

// FlashMessage is a one-shot message shown on the next page a non-AJAX
// caller lands on.
type FlashMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Flashes queues and drains flash messages in a cookie session.
type Flashes struct {
	store  sessions.Store
	logger *slog.Logger
}

func NewFlashes(store sessions.Store, logger *slog.Logger) *Flashes {
	return &Flashes{store: store, logger: logger}
}

// NewCookieStore builds the session store used for flash messages.
func NewCookieStore(key []byte, secure bool) *sessions.CookieStore {
	store := sessions.NewCookieStore(key)
	store.Options.HttpOnly = true
	store.Options.Secure = secure
	store.Options.SameSite = http.SameSiteLaxMode
	store.Options.Path = "/"
	return store
}

func (f *Flashes) Add(w http.ResponseWriter, r *http.Request, msg FlashMessage) {
	session, err := f.store.Get(r, flashSessionName)
	if err != nil {
		f.logger.Warn("discarding unreadable flash session", "error", err)
	}
	session.AddFlash(msg)
	if err := session.Save(r, w); err != nil {
		f.logger.Error("failed to save flash message", "error", err)
	}
}

// Pop returns and clears the queued messages.
func (f *Flashes) Pop(w http.ResponseWriter, r *http.Request) []FlashMessage {
	session, err := f.store.Get(r, flashSessionName)
	if err != nil {
		f.logger.Warn("discarding unreadable flash session", "error", err)
	}

	var messages []FlashMessage
	for _, v := range session.Flashes() {
		if fm, ok := v.(FlashMessage); ok {
			messages = append(messages, fm)
		}
	}
	if err := session.Save(r, w); err != nil {
		f.logger.Error("failed to clear flash messages", "error", err)
	}
	return messages
}
