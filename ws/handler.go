package ws

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/salachat/salachat/chat"
)

// Handler upgrades HTTP requests to websocket sessions and binds each one to
// an identity before any event is dispatched.
//
// Authentication itself happens upstream: an authenticated request carries
// the user id in the X-User-ID header (set by the session layer), which is
// resolved through the identity provider. A nick query parameter instead
// produces a legacy name-based guest identity. A connection with neither
// stays unauthenticated and can only be refused per event.
type Handler struct {
	Logger     *slog.Logger
	Dispatcher *chat.Dispatcher
	Identities chat.IdentityProvider

	// CheckOrigin overrides the upgrader's origin policy when set.
	CheckOrigin func(r *http.Request) bool
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ident, authed := h.identify(r)

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.CheckOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Error("Could not upgrade connection", "remote", r.RemoteAddr, "error", err.Error())
		return
	}

	c := newClient(conn, ident, authed, h.Dispatcher, h.Logger)
	h.Logger.Info("Connection accepted", "conn", c.ID(), "user", ident.Name, "authenticated", authed)

	go c.writePump()
	c.readPump(r.Context())
}

func (h *Handler) identify(r *http.Request) (chat.Identity, bool) {
	if raw := r.Header.Get("X-User-ID"); raw != "" {
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.Logger.Warn("Malformed user id", "value", raw)
			return chat.Identity{}, false
		}
		ident, err := h.Identities.Identity(r.Context(), userID)
		if err != nil {
			h.Logger.Warn("Could not resolve identity", "user", userID, "error", err.Error())
			return chat.Identity{}, false
		}
		return ident, true
	}

	if nick := r.URL.Query().Get("nick"); nick != "" {
		return chat.Identity{Name: nick, Avatar: chat.FallbackAvatar(nick)}, true
	}

	return chat.Identity{}, false
}
