package config

import (
	"log/slog"
	"os"

	"github.com/hearthside-software/hearth/internal/utils"
	"github.com/spf13/viper"
)

func setViperDefaults() {
	viper.SetDefault("loglevel", "info")
	viper.SetDefault("logfile", "")
	viper.SetDefault("relayurl", "ws://localhost:8188")
	viper.SetDefault("room", "hearth")
	viper.SetDefault("audiofile", "")
	viper.SetDefault("tonefrequency", 440.0)
}

// LoadConfig reads the client configuration file, falling back to defaults
// when the file is absent. At least one ICE server must be configured.
func LoadConfig(configFilePath string) {
	setViperDefaults()

	viper.SetConfigFile(configFilePath)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			slog.Info("no config file found", "configFilePath", configFilePath)
		} else if os.IsNotExist(err) {
			slog.Info("no config file found", "configFilePath", configFilePath)
		} else {
			slog.Error("error during config read", "err", err)
			panic(err)
		}
	}

	// Candidate gathering needs at least one reachable helper host.
	if !viper.IsSet("ICEServers") || len(viper.GetStringSlice("ICEServers")) == 0 {
		slog.Error("at least one ICE server must be specified. See the `config` section of the README.")
		panic("no ICE server specified")
	}
}

// ConfigureLogger points the default slog logger at the configured level
// and output. Returns the log file handle, if any, for graceful shutdown.
func ConfigureLogger() *os.File {
	logFilePointer, err := utils.ConfigureDefaultLogger(
		viper.GetString("loglevel"),
		viper.GetString("logfile"),
		slog.HandlerOptions{},
	)
	if err != nil {
		slog.Error("error during logger configuration", "err", err)
		panic(err)
	}
	return logFilePointer
}
