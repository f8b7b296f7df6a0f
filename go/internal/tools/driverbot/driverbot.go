// driverbot is a headless relay client for soak-testing rooms: it
// creates or joins a room, drives a circle at game rate, and logs
// everything it hears from its peers.
package main

import (
	"context"
	"flag"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/slipstream-racing/slipstream/go/internal/netclient"
	"github.com/slipstream-racing/slipstream/go/internal/protocol"
	"github.com/slipstream-racing/slipstream/go/internal/reconcile"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:3000/ws", "relay WebSocket endpoint")
		code     = flag.String("join", "", "room code to join; empty creates a room")
		username = flag.String("username", "driverbot", "username advertised in snapshots")
		radius   = flag.Float64("radius", 20, "driving circle radius")
	)
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := netclient.NewClient(netclient.Options{})
	if err := client.Connect(ctx, *url); err != nil {
		log.Fatal().Err(err).Msg("connect failed")
	}
	defer client.Disconnect()

	events, unsubscribe := client.Subscribe()
	defer unsubscribe()

	reconciler := reconcile.New(reconcile.Options{})

	if *code == "" {
		reply, err := client.CreateRoom(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("create room failed")
		}
		log.Info().Str("code", reply.Code).Msg("room created, share this code")
	} else {
		reply, err := client.JoinRoom(ctx, *code)
		if err != nil {
			log.Fatal().Err(err).Msg("join room failed")
		}
		log.Info().Str("code", reply.Code).Strs("players", reply.Players).Msg("joined room")
		reconciler.Seed(reply.Players)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// 60 Hz game loop; the client halves that on the wire.
	ticker := time.NewTicker(time.Second / 60)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-sigChan:
			log.Info().Msg("shutting down")
			return

		case ev := <-events:
			switch ev.Type {
			case netclient.EventPlayerJoined:
				log.Info().Str("player_id", ev.PlayerID).Msg("peer joined")
			case netclient.EventPlayerLeft:
				log.Info().Str("player_id", ev.PlayerID).Msg("peer left")
			case netclient.EventDisconnected:
				log.Warn().Msg("relay dropped the connection")
				return
			}
			reconciler.Apply(ev)

		case <-ticker.C:
			reconciler.Tick()

			t := time.Since(start).Seconds()
			angle := t * 0.5
			steering := 0.3
			if err := client.PublishState(protocol.PlayerState{
				Position: &protocol.Vector3{
					X: *radius * math.Cos(angle),
					Y: *radius * math.Sin(angle),
					Z: 0,
				},
				Quaternion: &protocol.Quaternion{
					Z: math.Sin((angle + math.Pi/2) / 2),
					W: math.Cos((angle + math.Pi/2) / 2),
				},
				Velocity: &protocol.Vector3{
					X: -*radius * 0.5 * math.Sin(angle),
					Y: *radius * 0.5 * math.Cos(angle),
				},
				Steering: &steering,
				Username: *username,
			}); err != nil {
				log.Warn().Err(err).Msg("publish failed")
			}
		}
	}
}
