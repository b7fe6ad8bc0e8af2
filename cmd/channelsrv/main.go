// Command channelsrv wires together the channels described by a YAML
// config file: the per-channel frame pipeline, reference screen/speaker
// consumers, and an optional websocket status endpoint external to the
// core pipeline.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gorilla/websocket"

	"github.com/relaycore/channelcore/internal/channel"
	"github.com/relaycore/channelcore/internal/config"
	"github.com/relaycore/channelcore/internal/consumer"
	"github.com/relaycore/channelcore/internal/consumer/screen"
	"github.com/relaycore/channelcore/internal/consumer/speaker"
	"github.com/relaycore/channelcore/internal/gpu"
	"github.com/relaycore/channelcore/internal/pixfmt"
	"github.com/relaycore/channelcore/internal/producer"
	"github.com/relaycore/channelcore/internal/producer/color"
	"github.com/relaycore/channelcore/internal/registry"
)

func main() {
	configPath := flag.String("config", "channelsrv.yml", "path to the YAML channel configuration")
	debug := flag.Bool("debug", false, "enable debug-level logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("channelsrv: failed to load config", "error", err)
		os.Exit(1)
	}

	reg := buildRegistry()
	device := gpu.NewSoftwareDevice(gpu.NewPool())

	channels := make(map[int]*channel.Channel, len(cfg.Channels))
	for _, cc := range cfg.Channels {
		format, err := cc.Format.ToVideoFormat()
		if err != nil {
			log.Error("channelsrv: invalid channel format", "channel", cc.Index, "error", err)
			os.Exit(1)
		}
		ch := channel.New(channel.Config{
			Index:               cc.Index,
			Format:              format,
			Device:              device,
			StageMailboxDepth:   2,
			StageInFlightLimit:  2,
			MixerOutputDepth:    2,
			DestroyerQueueDepth: 16,
			Log:                 log,
		})
		for _, lc := range cc.Layers {
			params := append([]string{lc.Producer}, lc.Params...)
			p, err := reg.CreateProducer(ch.FrameFactory(), format, params)
			if err != nil {
				log.Error("channelsrv: producer setup failed", "channel", cc.Index, "layer", lc.ID, "error", err)
				continue
			}
			ch.Load(lc.ID, p, true, nil)
			if lc.AutoPlay {
				ch.Play(lc.ID)
			}
		}
		for _, cons := range cc.Consumers {
			params := append([]string{cons.Name, strconv.Itoa(cons.Slot)}, cons.Params...)
			c, err := reg.CreateConsumer(params)
			if err != nil {
				log.Error("channelsrv: consumer setup failed", "channel", cc.Index, "slot", cons.Slot, "error", err)
				continue
			}
			if err := ch.AddConsumer(cons.Slot, c); err != nil {
				log.Error("channelsrv: add_consumer failed", "channel", cc.Index, "slot", cons.Slot, "error", err)
			}
		}
		channels[cc.Index] = ch
		log.Info("channelsrv: channel started", "channel", cc.Index, "width", format.Width, "height", format.Height, "fps", format.FPS)
	}

	var statusSrv *http.Server
	if cfg.Status.Enabled {
		statusSrv = startStatusServer(cfg.Status.Addr, channels, log)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("channelsrv: shutting down")
	for idx, ch := range channels {
		ch.Shutdown()
		log.Info("channelsrv: channel stopped", "channel", idx)
	}
	if statusSrv != nil {
		_ = statusSrv.Shutdown(context.Background())
	}
}

// buildRegistry registers the reference factories this demo binary ships
// with: the color producer and the screen and speaker consumers. A production deployment would additionally register
// file/network producer factories and card/SDI consumer factories here;
// creation tries factories in registration order until one claims the
// params (§6).
func buildRegistry() *registry.Registry {
	reg := registry.New()

	// Each factory's params[0] is a chain-of-responsibility discriminator
	// (the config's producer/consumer name): a factory that doesn't
	// recognize it declines by returning the empty/nil result so the next
	// registered factory gets a turn, per §6 "creation tries factories in
	// order."
	reg.RegisterProducer("color", func(factory *gpu.FrameFactory, format pixfmt.VideoFormat, params []string) (producer.Producer, error) {
		if len(params) < 2 || params[0] != "color" {
			return producer.Empty, nil
		}
		b, g, r, a, err := parseBGRAHex(params[1])
		if err != nil {
			return nil, err
		}
		return color.New(factory, format, b, g, r, a), nil
	})

	reg.RegisterConsumer("screen", func(params []string) (consumer.Consumer, error) {
		if len(params) < 2 || params[0] != "screen" {
			return nil, nil
		}
		idx, err := strconv.Atoi(params[1])
		if err != nil {
			return nil, fmt.Errorf("screen consumer: invalid slot index %q: %w", params[1], err)
		}
		title := "channelsrv"
		if len(params) > 2 {
			title = params[2]
		}
		return screen.NewConsumer(idx, title), nil
	})
	reg.RegisterConsumer("speaker", func(params []string) (consumer.Consumer, error) {
		if len(params) < 2 || params[0] != "speaker" {
			return nil, nil
		}
		idx, err := strconv.Atoi(params[1])
		if err != nil {
			return nil, fmt.Errorf("speaker consumer: invalid slot index %q: %w", params[1], err)
		}
		return speaker.NewConsumer(idx), nil
	})
	return reg
}

// parseBGRAHex parses an 8-hex-digit BBGGRRAA string into its four bytes.
func parseBGRAHex(s string) (b, g, r, a byte, err error) {
	if len(s) != 8 {
		return 0, 0, 0, 0, fmt.Errorf("color producer: expected 8 hex digits (BBGGRRAA), got %q", s)
	}
	var v uint64
	if _, err := fmt.Sscanf(s, "%08x", &v); err != nil {
		return 0, 0, 0, 0, fmt.Errorf("color producer: invalid hex %q: %w", s, err)
	}
	return byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v), nil
}

// startStatusServer serves a minimal JSON status snapshot over both plain
// HTTP GET and a websocket push-on-connect, external to the core pipeline
// (§5 DESIGN NOTES: the status surface is not part of the frame-deadline
// path).
func startStatusServer(addr string, channels map[int]*channel.Channel, log *slog.Logger) *http.Server {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	snapshot := func() map[string]any {
		out := make(map[string]any, len(channels))
		for idx, ch := range channels {
			stats := ch.StageStats()
			out[strconv.Itoa(idx)] = map[string]any{
				"degraded":       ch.Degraded(),
				"ticket_waits":   stats.TicketWaits,
				"ticket_wait_ns": stats.TicketWaitNs,
			}
		}
		return out
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snapshot())
	})
	mux.HandleFunc("/status/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("channelsrv: websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()
		if err := conn.WriteJSON(snapshot()); err != nil {
			return
		}
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("channelsrv: status server failed", "error", err)
		}
	}()
	return srv
}
