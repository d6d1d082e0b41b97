package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"meetcall/internal/api"
	"meetcall/internal/config"
	"meetcall/internal/controls"
	"meetcall/internal/device"
	"meetcall/internal/domain"
	"meetcall/internal/httpapi"
	"meetcall/internal/meeting"
	sigclient "meetcall/internal/signal"
	"meetcall/internal/surface"
	"meetcall/internal/transport"
	"meetcall/internal/webrtc"
)

const helpText = `meetcall - join a multi-party video meeting from the terminal

Usage:
  meetcall [options]

Remote video is written per participant to MEET_OUTPUT_DIR (.ivf for VP8,
.h264 for H264) and remote audio to .ogg files alongside.

Environment Variables:
  MEET_SIGNAL_URL       Signaling WebSocket URL (required)
  MEET_API_URL          Credential service base URL
  MEET_API_TOKEN        Bearer token for the credential service
  MEET_ROOM             Meeting code to join; empty creates a new meeting
  MEET_OUTPUT_DIR       Where remote surfaces are written
  MEET_CONTROL_ADDR     Optional HTTP control address, e.g. 127.0.0.1:8089
  MEET_LOG_LEVEL        debug, info, warn, error

Commands (stdin):
  m  toggle microphone
  c  toggle camera
  q  leave the meeting

Options:
  -h, --help  Show this help message
`

// lobby hands control back to the shell once the session is over.
type lobby struct {
	cancel context.CancelFunc
}

func (l lobby) NavigateToLobby() {
	log.Info().Str("module", "main").Str("route", "/meeting").Msg("back to lobby")
	l.cancel()
}

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		fmt.Print(helpText)
		os.Exit(0)
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Str("module", "main").Msg("load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	creds, err := api.NewClient(cfg.APIURL, cfg.APIToken).RequestJoinCredentials(ctx, cfg.Room)
	if err != nil {
		log.Fatal().Err(err).Str("module", "main").Str("room", cfg.Room).Msg("request join credentials")
	}
	log.Info().Str("module", "main").Str("room", creds.RoomID).Int("uid", creds.LocalID).Msg("credentials obtained")

	peer, err := webrtc.NewPeer([]domain.ICEServer{{URL: cfg.STUNURL}})
	if err != nil {
		log.Fatal().Err(err).Str("module", "main").Msg("create peer")
	}

	provider := transport.NewProvider(peer)
	sc := sigclient.NewClient(cfg.SignalURL, cfg.PingInterval, provider)
	provider.SetSignaler(sc)

	capturer, err := device.NewMediaDevicesCapturer()
	if err != nil {
		log.Fatal().Err(err).Str("module", "main").Msg("create capturer")
	}
	surfaces, err := surface.NewFileRegistry(cfg.OutputDir)
	if err != nil {
		log.Fatal().Err(err).Str("module", "main").Msg("create surface registry")
	}
	player, err := surface.NewFileAudioPlayer(cfg.OutputDir)
	if err != nil {
		log.Fatal().Err(err).Str("module", "main").Msg("create audio player")
	}

	ctl := meeting.New(meeting.Config{
		RoomID:     creds.RoomID,
		Credential: creds.Credential,
		LocalID:    creds.LocalID,
		ErrorTTL:   cfg.ErrorTTL,
	}, meeting.Deps{
		Transport: provider,
		Capturer:  capturer,
		Surfaces:  surfaces,
		Audio:     player,
		Navigator: lobby{cancel: cancel},
	})
	defer func() {
		if err := provider.Leave(context.Background()); err != nil {
			log.Warn().Err(err).Str("module", "main").Msg("transport leave")
		}
	}()

	vis := showControls(cfg.ControlsTimeout)
	defer vis.Close()

	if cfg.ControlAddr != "" {
		go func() {
			if err := httpapi.Serve(ctx, cfg.ControlAddr, httpapi.SetupRouter(ctl, vis)); err != nil {
				log.Error().Err(err).Str("module", "main").Msg("control server")
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			log.Info().Str("module", "main").Str("signal", sig.String()).Msg("shutting down")
			ctl.Close()
			cancel()
		case <-ctx.Done():
		}
	}()

	go readCommands(ctx, os.Stdin, ctl, vis.Activity)

	if err := ctl.Join(ctx); err != nil {
		log.Error().Err(err).Str("module", "main").Msg("join")
		if snap := ctl.Snapshot(); snap.Error != nil {
			fmt.Fprintln(os.Stderr, snap.Error.Message)
		}
		return
	}
	log.Info().Str("module", "main").Str("sid", ctl.SessionID()).Str("room", creds.RoomID).Msg("in meeting")

	<-ctx.Done()
	ctl.Close()
	log.Info().Str("module", "main").Msg("done")
}

// showControls starts with the controls visible and counting down.
func showControls(timeout time.Duration) *controls.Visibility {
	vis := controls.New(timeout, func(visible bool) {
		log.Debug().Str("module", "main").Bool("visible", visible).Msg("controls")
	})
	vis.Activity()
	return vis
}

// commander is the part of the controller stdin commands drive.
type commander interface {
	ToggleMute() (bool, error)
	ToggleCamera() (bool, error)
	Snapshot() meeting.Snapshot
	Close()
}

// readCommands runs stdin commands until q or end of input. Every line
// counts as activity.
func readCommands(ctx context.Context, in io.Reader, ctl commander, activity func()) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		activity()

		switch strings.TrimSpace(sc.Text()) {
		case "m":
			muted, err := ctl.ToggleMute()
			if err != nil {
				log.Warn().Err(err).Str("module", "main").Msg("toggle mute")
				continue
			}
			log.Info().Str("module", "main").Bool("muted", muted).Msg("microphone")
		case "c":
			off, err := ctl.ToggleCamera()
			if err != nil {
				log.Warn().Err(err).Str("module", "main").Msg("toggle camera")
				continue
			}
			log.Info().Str("module", "main").Bool("camera_off", off).Msg("camera")
		case "q":
			// Close also ends a session whose join has not started yet.
			ctl.Close()
			return
		case "":
		default:
			snap := ctl.Snapshot()
			log.Info().Str("module", "main").Str("state", snap.State.String()).Int("participants", len(snap.Participants)).Msg("status")
		}
	}
}
