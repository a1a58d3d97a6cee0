// Package server exposes HTTP handlers, including name registration,
// WebSocket upgrades, health checks, and the built-in test page.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"

	"github.com/Tyrowin/namerelay/internal/metrics"
	"github.com/Tyrowin/namerelay/internal/registry"
	"github.com/gorilla/websocket"
)

// ClaimTokenHeader carries the claim token on a successful registration.
const ClaimTokenHeader = "X-Claim-Token"

// maxRegistrationBodySize caps the registration request body.
const maxRegistrationBodySize = 4 << 10

var errMalformedBody = errors.New("malformed registration body")

type registrationRequest struct {
	Name string `json:"name"`
}

// Handlers serves the registration and WebSocket endpoints against one
// registry and hub.
type Handlers struct {
	cfg      Config
	names    *registry.Registry
	hub      *Hub
	metrics  *metrics.Metrics
	origins  *originPolicy
	upgrader websocket.Upgrader
}

// NewHandlers wires the HTTP surface to names and hub.
func NewHandlers(cfg *Config, names *registry.Registry, hub *Hub) *Handlers {
	if cfg == nil {
		cfg = NewConfig()
	}

	origins := newOriginPolicy(cfg.AllowedOrigins)
	return &Handlers{
		cfg:     *cfg,
		names:   names,
		hub:     hub,
		metrics: hub.metrics,
		origins: origins,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
	}
}

// RegisterHandler claims the requested name. On success it answers 204 with
// the claim token in the X-Claim-Token header; a taken name is a 400.
func (h *Handlers) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	name, err := decodeRegistration(w, r)
	if err != nil {
		h.metrics.Registrations.WithLabelValues(metrics.ResultInvalid).Inc()
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	claim, err := h.names.Register(name)
	switch {
	case errors.Is(err, registry.ErrNameTaken):
		h.metrics.Registrations.WithLabelValues(metrics.ResultTaken).Inc()
		slog.Info("Rejected duplicate name", "name", name, "addr", r.RemoteAddr)
		http.Error(w, "User name already exists!", http.StatusBadRequest)
		return
	case errors.Is(err, registry.ErrInvalidName):
		h.metrics.Registrations.WithLabelValues(metrics.ResultInvalid).Inc()
		http.Error(w, h.invalidNameMessage(), http.StatusBadRequest)
		return
	case err != nil:
		slog.Error("Registration failed", "name", name, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	h.metrics.Registrations.WithLabelValues(metrics.ResultAccepted).Inc()
	slog.Info("Name registered", "name", claim.Name, "addr", r.RemoteAddr)

	w.Header().Set(ClaimTokenHeader, claim.Token)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) invalidNameMessage() string {
	if h.cfg.MaxNameLength > 0 {
		return fmt.Sprintf("User name must be between 1 and %d characters", h.cfg.MaxNameLength)
	}
	return "User name must not be empty"
}

// decodeRegistration reads the name from a JSON or form encoded body.
func decodeRegistration(w http.ResponseWriter, r *http.Request) (string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRegistrationBodySize)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return "", fmt.Errorf("%w: %v", errMalformedBody, err)
		}
		return r.PostForm.Get("name"), nil
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxRegistrationBodySize); err != nil {
			return "", fmt.Errorf("%w: %v", errMalformedBody, err)
		}
		return r.PostFormValue("name"), nil
	default:
		var req registrationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return "", fmt.Errorf("%w: %v", errMalformedBody, err)
		}
		return req.Name, nil
	}
}

// WebSocketHandler binds the request to a claimed name, upgrades the
// connection and admits it to the hub, which launches the pumps.
func (h *Handlers) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	if !h.origins.checkOrigin(r) {
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	name, err := h.bindName(r)
	if err != nil {
		slog.Info("Rejected WebSocket without a pending claim", "addr", r.RemoteAddr, "mode", h.cfg.BindMode)
		http.Error(w, "No pending registration for this connection", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		h.names.Release(name)
		return
	}

	client := NewClient(conn, h.hub, name, r.RemoteAddr)
	if err := h.hub.Admit(client); err != nil {
		slog.Warn("Admission refused", "name", name, "error", err)
		h.names.Release(name)
		_ = conn.Close()
	}
}

// bindName redeems the claim the connection is entitled to.
func (h *Handlers) bindName(r *http.Request) (string, error) {
	if h.cfg.BindMode == BindLatest {
		return h.names.RedeemLatest()
	}
	return h.names.Redeem(r.URL.Query().Get("token"))
}

// HealthHandler provides a simple health check endpoint.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "hello")
}

// TestPageHandler serves an HTML page that registers a name, connects with
// the returned claim token and shows roster updates next to relayed messages.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		slog.Warn("Error writing HTML response", "error", err)
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>namerelay test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        #roster { margin: 10px 0; color: #555; }
        input[type="text"] { width: 300px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>namerelay test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="nameInput" placeholder="Pick a name...">
        <button id="joinButton" onclick="join()">Join</button>
    </div>
    <div id="roster">Online: -</div>
    <div>
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <div id="messages"></div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const rosterDiv = document.getElementById('roster');
        const nameInput = document.getElementById('nameInput');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');
        const statusDiv = document.getElementById('status');

        function addMessage(text, color) {
            const el = document.createElement('div');
            el.style.margin = '5px 0';
            el.style.color = color || 'gray';
            el.textContent = text;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            messageInput.disabled = !connected;
            sendButton.disabled = !connected;
        }

        function isRoster(data) {
            try {
                const parsed = JSON.parse(data);
                return Array.isArray(parsed) && parsed.every(n => typeof n === 'string') ? parsed : null;
            } catch (e) {
                return null;
            }
        }

        async function join() {
            const name = nameInput.value.trim();
            const resp = await fetch('/users', {
                method: 'POST',
                headers: { 'Content-Type': 'application/json' },
                body: JSON.stringify({ name: name }),
            });
            if (resp.status !== 204) {
                addMessage(await resp.text(), 'red');
                return;
            }
            const token = resp.headers.get('X-Claim-Token');
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws?token=' + encodeURIComponent(token));
            ws.onopen = () => { addMessage('Joined as ' + name); updateStatus(true); };
            ws.onmessage = (event) => {
                const roster = isRoster(event.data);
                if (roster) {
                    rosterDiv.textContent = 'Online: ' + roster.join(', ');
                } else {
                    addMessage(event.data, 'green');
                }
            };
            ws.onclose = () => { addMessage('Connection closed'); updateStatus(false); ws = null; };
        }

        function sendMessage() {
            const message = messageInput.value.trim();
            if (message && ws && ws.readyState === WebSocket.OPEN) {
                ws.send(message);
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`
