package main

import (
	"flag"
	"log/slog"

	"github.com/hearthside-software/hearth/cmd/relay/config"
	"github.com/hearthside-software/hearth/internal/relay"
	"github.com/spf13/viper"
)

func main() {
	configFilePath := flag.String("configFilePath", "config.yaml", "Set the file path to the config file.")
	flag.Parse()

	config.LoadConfig(*configFilePath)
	logFilePointer := config.ConfigureLogger()
	if logFilePointer != nil {
		defer logFilePointer.Close()
	}

	// --------------------------------------------------------------------------------

	registry := relay.NewRegistry(slog.Default())
	defer registry.Close()

	router := relay.NewRouter(registry, viper.GetStringSlice("allowedorigins"))

	listenAddress := viper.GetString("listenaddress")
	slog.Info("starting relay listening", "listenAddress", listenAddress)
	if err := router.Run(listenAddress); err != nil {
		slog.Error("error during listen and serve", "err", err)
	}
}
