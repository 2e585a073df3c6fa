package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/hearthside-software/hearth/cmd/client/config"
	"github.com/hearthside-software/hearth/internal/media"
	"github.com/hearthside-software/hearth/internal/negotiation"
	"github.com/hearthside-software/hearth/internal/signalclient"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/viper"
)

func newMediaSource() (media.Source, error) {
	if audioFilePath := viper.GetString("audiofile"); audioFilePath != "" {
		return media.NewFileSource(audioFilePath, nil)
	}
	return media.NewToneSource(viper.GetFloat64("tonefrequency"), nil)
}

func main() {
	configFilePath := flag.String("configFilePath", "config.yaml", "Set the file path to the config file.")
	flag.Parse()

	config.LoadConfig(*configFilePath)
	logFilePointer := config.ConfigureLogger()
	if logFilePointer != nil {
		defer logFilePointer.Close()
	}

	// --------------------------------------------------------------------------------

	source, err := newMediaSource()
	if err != nil {
		slog.Error("error while creating media source", "err", err)
		panic(err)
	}
	defer source.Close()

	signaling, err := signalclient.Dial(
		viper.GetString("relayurl"),
		viper.GetString("room"),
		nil,
	)
	if err != nil {
		slog.Error("error while connecting to relay", "err", err)
		panic(err)
	}
	defer signaling.Close()

	webrtcConfig := webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: viper.GetStringSlice("ICEServers")},
		},
	}

	// Incoming media has nowhere to render in a headless client; read and
	// discard so the transport stays healthy.
	onRemoteTrack := func(peerID string, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		slog.Info(
			"receiving remote track",
			"peer", peerID,
			"track ID", track.ID(),
			"track kind", track.Kind().String(),
			"mime", track.Codec().MimeType,
		)
		go func() {
			for {
				if _, _, err := track.ReadRTP(); err != nil {
					return
				}
			}
		}()
	}

	factory := negotiation.NewPionFactory(webrtcConfig, source, onRemoteTrack, nil)
	engine := negotiation.NewEngine(signaling, factory, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.Run(ctx)

	// --------------------------------------------------------------------------------

	if err := signaling.Ready(); err != nil {
		slog.Error("error while sending ready", "err", err)
		panic(err)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	for {
		select {
		case env, ok := <-signaling.Events():
			if !ok {
				slog.Info("relay connection closed, shutting down")
				return
			}
			engine.HandleEnvelope(env)
		case <-interrupt:
			slog.Info("interrupt received, shutting down")
			return
		}
	}
}
