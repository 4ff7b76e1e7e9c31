// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/conditions/services/conditions"
	"github.com/AleutianAI/conditions/services/conditions/source"
)

// subscriberBuffer is the number of undelivered events kept per client.
// Events beyond it are dropped for that client.
const subscriberBuffer = 16

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// identityMessage is the wire form of source.Identity.
type identityMessage struct {
	Detector string `json:"detector"`
	Run      int    `json:"run"`
}

// EventMessage is sent to websocket clients for every committed change.
type EventMessage struct {
	Action   string           `json:"action"`
	ID       string           `json:"id,omitempty"`
	Previous *identityMessage `json:"previous,omitempty"`
	Current  *identityMessage `json:"current,omitempty"`
}

func toIdentity(id source.Identity) *identityMessage {
	if id.IsZero() {
		return nil
	}
	return &identityMessage{Detector: id.Detector, Run: id.Run}
}

// Hub fans manager change events out to websocket subscribers.
//
// # Thread Safety
//
// ConditionsChanged runs with the manager lock held and never blocks; a
// slow client loses events rather than stalling the manager.
type Hub struct {
	mu   sync.Mutex
	subs map[chan EventMessage]struct{}
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan EventMessage]struct{})}
}

// ConditionsChanged implements conditions.Listener.
func (h *Hub) ConditionsChanged(ev conditions.ChangeEvent) error {
	msg := EventMessage{
		Action:   "conditions_changed",
		ID:       ev.ID.String(),
		Previous: toIdentity(ev.Previous),
		Current:  toIdentity(ev.Current),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

func (h *Hub) subscribe() chan EventMessage {
	ch := make(chan EventMessage, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) unsubscribe(ch chan EventMessage) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// Subscribers returns the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// StreamEvents upgrades to a websocket and streams change events until the
// client goes away. The first message has action "subscribed".
func StreamEvents(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", slog.String("error", err.Error()))
			return
		}
		defer ws.Close()

		ch := hub.subscribe()
		defer hub.unsubscribe(ch)

		if err := ws.WriteJSON(EventMessage{Action: "subscribed"}); err != nil {
			return
		}

		// Reads only detect the close; clients send nothing.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := ws.NextReader(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case msg := <-ch:
				ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := ws.WriteJSON(msg); err != nil {
					slog.Warn("Failed to write WebSocket JSON", slog.String("error", err.Error()))
					return
				}
			case <-gone:
				return
			case <-c.Request.Context().Done():
				return
			}
		}
	}
}
