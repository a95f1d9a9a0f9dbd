// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/sage-x-project/sage-rtc/envelope"
	"github.com/sage-x-project/sage-rtc/internal/logger"
)

var relayAddr string

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the untrusted signaling relay",
	Long: `relay blindly forwards signed CallEnvelope frames between connected peers,
routing by the envelope body's recipient public key. It never verifies
signatures or inspects encrypted fields — the saga/dispatch stack on each
peer is responsible for all trust decisions (§4.3).`,
	RunE: runRelay,
}

func init() {
	rootCmd.AddCommand(relayCmd)
	relayCmd.Flags().StringVar(&relayAddr, "addr", ":8765", "listen address")
}

// relayHub tracks one websocket connection per connected public key and
// forwards each inbound envelope to its recipient, mirroring the teacher's
// connection-registry pattern but keyed by peer identity instead of session.
type relayHub struct {
	mu      sync.Mutex
	clients map[string]*websocket.Conn
	log     logger.Logger
}

func newRelayHub(log logger.Logger) *relayHub {
	return &relayHub{clients: make(map[string]*websocket.Conn), log: log}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (h *relayHub) serveWS(w http.ResponseWriter, r *http.Request) {
	peerID := r.URL.Query().Get("peer")
	if peerID == "" {
		http.Error(w, "missing ?peer= query parameter", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("relay: upgrade failed", logger.Error(err))
		return
	}

	h.mu.Lock()
	h.clients[peerID] = conn
	h.mu.Unlock()
	h.log.Info("relay: peer connected", logger.String("peer", peerID))

	defer func() {
		h.mu.Lock()
		delete(h.clients, peerID)
		h.mu.Unlock()
		conn.Close()
		h.log.Info("relay: peer disconnected", logger.String("peer", peerID))
	}()

	for {
		var env envelope.CallEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		h.forward(&env)
	}
}

// forward peeks the envelope's unsigned recipient field and relays the raw
// frame to that peer's socket, if connected. The relay trusts nothing it
// reads here; a malicious or malformed recipient field simply fails to
// route (§4.3 "untrusted signaling relay").
func (h *relayHub) forward(env *envelope.CallEnvelope) {
	raw, err := base64.StdEncoding.DecodeString(env.B)
	if err != nil {
		h.log.Warn("relay: undecodable body, dropping", logger.Error(err))
		return
	}
	var peek struct {
		Recipient string `json:"recipient"`
	}
	if err := json.Unmarshal(raw, &peek); err != nil || peek.Recipient == "" {
		h.log.Warn("relay: no recipient, dropping")
		return
	}

	h.mu.Lock()
	conn, ok := h.clients[peek.Recipient]
	h.mu.Unlock()
	if !ok {
		h.log.Debug("relay: recipient not connected, dropping", logger.String("recipient", peek.Recipient))
		return
	}
	if err := conn.WriteJSON(env); err != nil {
		h.log.Warn("relay: forward failed", logger.Error(err), logger.String("recipient", peek.Recipient))
	}
}

func runRelay(cmd *cobra.Command, args []string) error {
	log := logger.NewDefaultLogger()
	hub := newRelayHub(log)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.serveWS)

	log.Info("relay: listening", logger.String("addr", relayAddr))
	if err := http.ListenAndServe(relayAddr, mux); err != nil {
		return fmt.Errorf("relay: serve: %w", err)
	}
	return nil
}
