package marketdata

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const writeWait = 10 * time.Second

// FrameWS streams the current frame on connect and then every bus event.
type FrameWS struct {
	origin   string
	poller   *Poller
	bus      *Bus
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

func NewFrameWS(origin string, poller *Poller, bus *Bus, logger zerolog.Logger) *FrameWS {
	return &FrameWS{
		origin:   origin,
		poller:   poller,
		bus:      bus,
		logger:   logger,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return allowOrigin(r, origin) }},
	}
}

func (h *FrameWS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	events := h.bus.Subscribe()
	defer h.bus.Unsubscribe(events)

	if err := h.write(conn, Event{Type: EventFrame, Data: h.poller.Frame()}); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := h.write(conn, evt); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (h *FrameWS) write(conn *websocket.Conn, evt Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(evt)
}

func allowOrigin(r *http.Request, origin string) bool {
	if origin == "*" {
		return true
	}
	got := r.Header.Get("Origin")
	if got == "" {
		return true
	}
	return strings.EqualFold(got, origin)
}
