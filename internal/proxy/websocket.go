package proxy

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/medialobby/gateway/internal/observability"
)

// upgrader upgrades inbound connections for websocket passthrough.
// Origin checks are the front-end proxy's responsibility here.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// forwardWebSocket relays a websocket upgrade to the target: dials the
// upstream with the credential injected, upgrades the client side, and
// copies messages both ways until either side closes.
func (f *Forwarder) forwardWebSocket(w http.ResponseWriter, r *http.Request, target *Target, upstreamPath string) {
	backendURL := websocketURL(BuildUpstreamURL(target.BaseURL, upstreamPath, r.URL.RawQuery))

	header := http.Header{}
	for k, vv := range r.Header {
		if isHopHeader(k) || isWebSocketHeader(k) {
			continue
		}
		for _, v := range vv {
			header.Add(k, v)
		}
	}
	if target.CredentialHeader != "" {
		header.Set(target.CredentialHeader, target.Credential)
	}

	dialer := websocket.Dialer{}
	backendConn, resp, err := dialer.DialContext(r.Context(), backendURL, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			copyResponseHeaders(w.Header(), resp.Header)
			w.WriteHeader(resp.StatusCode)
		} else {
			writeForwardError(w, NewUnreachableError(target.Name, err), target.Name)
		}
		f.logger.Warn("websocket dial failed",
			observability.String("target", target.Name),
			observability.Error(err),
		)
		return
	}
	defer backendConn.Close()

	clientConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Warn("websocket upgrade failed",
			observability.String("target", target.Name),
			observability.Error(err),
		)
		return
	}
	defer clientConn.Close()

	relayWebSocket(clientConn, backendConn)
}

// relayWebSocket copies messages between the two connections and returns
// once either direction fails or closes.
func relayWebSocket(clientConn, backendConn *websocket.Conn) {
	errCh := make(chan error, 2)

	copyMessages := func(dst, src *websocket.Conn) {
		for {
			msgType, msg, err := src.ReadMessage()
			if err != nil {
				_ = dst.WriteMessage(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				)
				errCh <- err
				return
			}
			if err := dst.WriteMessage(msgType, msg); err != nil {
				errCh <- err
				return
			}
		}
	}

	go copyMessages(clientConn, backendConn)
	go copyMessages(backendConn, clientConn)

	<-errCh
}

// websocketURL rewrites an http(s) URL to its ws(s) equivalent.
func websocketURL(u string) string {
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

// isWebSocketHeader reports whether gorilla manages the header itself
// during the handshake.
func isWebSocketHeader(name string) bool {
	switch strings.ToLower(name) {
	case "upgrade", "connection", "sec-websocket-key",
		"sec-websocket-version", "sec-websocket-extensions",
		"sec-websocket-protocol":
		return true
	}
	return false
}
