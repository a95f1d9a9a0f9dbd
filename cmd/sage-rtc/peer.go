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
	"bufio"
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sage-x-project/sage-rtc/connection"
	sagecrypto "github.com/sage-x-project/sage-rtc/crypto"
	"github.com/sage-x-project/sage-rtc/dispatch"
	"github.com/sage-x-project/sage-rtc/internal/logger"
	"github.com/sage-x-project/sage-rtc/media/fake"
	"github.com/sage-x-project/sage-rtc/signaling/wsclient"
	"github.com/sage-x-project/sage-rtc/timeservice"
)

var (
	peerRelayURL   string
	peerAlgorithm  string
	peerDialTarget string
	peerStepTimeout time.Duration
)

var peerCmd = &cobra.Command{
	Use:   "peer",
	Short: "Run a peer: connect to a relay, optionally dial another peer, chat",
	Long: `peer generates a fresh signing identity, connects to a signaling relay,
and waits for inbound dials. Pass --dial <peer-public-key> to additionally
open an outgoing connection to another already-running peer. Once a
connection reaches Open, lines typed on stdin are sent as text messages.`,
	RunE: runPeer,
}

func init() {
	rootCmd.AddCommand(peerCmd)
	peerCmd.Flags().StringVar(&peerRelayURL, "relay", "ws://127.0.0.1:8765/ws", "signaling relay websocket URL")
	peerCmd.Flags().StringVar(&peerAlgorithm, "algorithm", "ed25519", "signing algorithm: ed25519 or secp256k1")
	peerCmd.Flags().StringVar(&peerDialTarget, "dial", "", "base64 public key of a peer to dial on startup")
	peerCmd.Flags().DurationVar(&peerStepTimeout, "step-deadline", 60*time.Second, "per-step handshake timeout")
}

func runPeer(cmd *cobra.Command, args []string) error {
	log := logger.NewDefaultLogger()

	identity, err := newIdentity(peerAlgorithm)
	if err != nil {
		return err
	}
	fmt.Printf("identity: %s (%s)\n", identity.PublicKeyBase64(), identity.Algorithm())

	connURL, err := addPeerQuery(peerRelayURL, identity.PublicKeyBase64())
	if err != nil {
		return fmt.Errorf("peer: build relay URL: %w", err)
	}

	clock := timeservice.NewSystem()
	client := wsclient.New(connURL, identity, clock, wsclient.WithLogger(log))
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("peer: connect to relay: %w", err)
	}
	defer client.Shutdown()

	provider := &fake.Provider{}
	iceServers := []string{"stun:stun.l.google.com:19302"}

	factory := func(peerPublicKey string) (*connection.Connection, error) {
		return newConnectionFor(peerPublicKey, identity, provider, client, clock, log, iceServers)
	}
	registry := dispatch.NewRegistry(factory)
	router := dispatch.NewRouter(dispatch.Config{Registry: registry, Clock: clock, Logger: log})
	defer router.Stop()

	go func() {
		for env := range client.Envelopes() {
			if err := router.Dispatch(ctx, env); err != nil {
				log.Debug("peer: dispatch error", logger.Error(err))
			}
		}
	}()

	if peerDialTarget != "" {
		conn, _, err := registry.GetOrCreate(peerDialTarget)
		if err != nil {
			return fmt.Errorf("peer: create connection: %w", err)
		}
		if err := conn.OpenOutgoing(ctx); err != nil {
			return fmt.Errorf("peer: open outgoing: %w", err)
		}
		go chatLoop(ctx, conn)
	}

	<-ctx.Done()
	fmt.Println("peer: shutting down")
	return nil
}

func newConnectionFor(
	peerPublicKey string,
	identity *sagecrypto.PeerIdentity,
	provider *fake.Provider,
	client *wsclient.Client,
	clock timeservice.Clock,
	log logger.Logger,
	iceServers []string,
) (*connection.Connection, error) {
	conn, err := connection.New(connection.Config{
		PeerPublicKey:   peerPublicKey,
		Identity:        identity,
		Provider:        provider,
		SignalingClient: client,
		Clock:           clock,
		Logger:          log,
		ICEServers:      iceServers,
		StepDeadline:    peerStepTimeout,
	})
	if err != nil {
		return nil, err
	}
	conn.SetOnStateChanged(func(from, to connection.State) {
		fmt.Printf("[%s] state: %s -> %s\n", peerPublicKey, from, to)
	})
	conn.SetOnMessage(func(text string) {
		fmt.Printf("[%s] says: %s\n", peerPublicKey, text)
	})
	conn.SetOnProgress(func(percent int) {
		fmt.Printf("[%s] progress: %d%%\n", peerPublicKey, percent)
	})
	return conn, nil
}

func chatLoop(ctx context.Context, conn *connection.Connection) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := conn.Send(ctx, line); err != nil {
			fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func newIdentity(algorithm string) (*sagecrypto.PeerIdentity, error) {
	switch strings.ToLower(algorithm) {
	case "", "ed25519":
		return sagecrypto.NewEd25519PeerIdentity()
	case "secp256k1":
		return sagecrypto.NewSecp256k1PeerIdentity()
	default:
		return nil, fmt.Errorf("peer: unsupported algorithm %q", algorithm)
	}
}

func addPeerQuery(rawURL, peerPublicKey string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("peer", peerPublicKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
