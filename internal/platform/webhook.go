package platform

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// WebhookServer receives the platform's event stream over HTTP. Each
// delivery is a single JSON Event authenticated with an HS256 bearer
// token. Events are dispatched to the handler on their own goroutines;
// per-user ordering is the gate's concern, not the transport's.
type WebhookServer struct {
	secret  []byte
	handler Handler
	srv     *http.Server
}

// NewWebhookServer returns a webhook listener on addr that verifies
// tokens with secret and forwards events to handler.
func NewWebhookServer(addr, secret string, handler Handler) *WebhookServer {
	ws := &WebhookServer{secret: []byte(secret), handler: handler}
	mux := http.NewServeMux()
	mux.HandleFunc("/events", ws.handleEvent)
	ws.srv = &http.Server{Addr: addr, Handler: mux}
	return ws
}

// ListenAndServe blocks serving webhook deliveries until Shutdown.
func (ws *WebhookServer) ListenAndServe() error {
	err := ws.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting deliveries and waits for in-flight requests.
func (ws *WebhookServer) Shutdown(ctx context.Context) error {
	return ws.srv.Shutdown(ctx)
}

func (ws *WebhookServer) handleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !ws.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var ev Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	switch ev.Type {
	case EventMessageCreated:
		if ev.UserID == "" || ev.ChannelID == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		go ws.handler.HandleMessageCreated(context.Background(), ev)
	case EventThreadRemoved:
		if ev.ThreadID == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		go ws.handler.HandleThreadRemoved(context.Background(), ev)
	default:
		log.Printf("webhook: ignoring unknown event type %q", ev.Type)
	}

	w.WriteHeader(http.StatusAccepted)
}

// authorized verifies the Authorization bearer token is a valid HS256
// JWT signed with the shared webhook secret.
func (ws *WebhookServer) authorized(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || raw == "" {
		return false
	}
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return ws.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return false
	}
	return token.Valid
}
