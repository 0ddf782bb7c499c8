package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/murmur-chat/calling/pkg/internal/auth"
	"github.com/murmur-chat/calling/pkg/internal/database"
	"github.com/murmur-chat/calling/pkg/internal/grpc"
	"github.com/murmur-chat/calling/pkg/internal/server"
	"github.com/murmur-chat/calling/pkg/internal/server/api"
	"github.com/murmur-chat/calling/pkg/internal/services"
	"github.com/murmur-chat/calling/pkg/internal/signaling"
)

const AppVersion = "1.0.0"

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
}

func main() {
	// Configure settings
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.SetConfigName("settings")
	viper.SetConfigType("toml")

	// Load settings
	if err := viper.ReadInConfig(); err != nil {
		log.Panic().Err(err).Msg("An error occurred when loading settings.")
	}

	fmt.Println(color.New(color.FgHiCyan).Sprintf("Murmur.Calling v%s", AppVersion))

	// Connect to database
	db, err := database.NewSource()
	if err != nil {
		log.Fatal().Err(err).Msg("An error occurred when connect to database.")
	} else if err := database.RunMigration(db); err != nil {
		log.Fatal().Err(err).Msg("An error occurred when running database auto migration.")
	}
	store := database.NewCallStore(db)

	// Connect other services
	mediaRelay := services.NewLiveKitRelay()

	bus, err := signaling.NewBus()
	if err != nil {
		log.Fatal().Err(err).Msg("An error occurred when connecting to signaling bus.")
	}
	relay, err := signaling.NewRelay(bus)
	if err != nil {
		log.Fatal().Err(err).Msg("An error occurred when subscribing to signaling bus.")
	}

	calls := services.NewCallService(store, mediaRelay, relay)
	gateway := signaling.NewGateway(relay, calls)
	guard := auth.New(viper.GetString("secret"))

	// Server
	app := server.NewServer(api.NewAPI(calls, gateway, guard))
	go server.Listen(app)

	go func() {
		if err := grpc.NewGrpc().Listen(); err != nil {
			log.Fatal().Err(err).Msg("An error occurred when starting grpc server...")
		}
	}()

	// Configure timed tasks
	reaper := services.NewReaper(store, mediaRelay, relay)
	quartz := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(&log.Logger)))
	quartz.AddFunc("@every 1m", reaper.RunSweeps)
	quartz.Start()

	log.Info().Msgf("Calling v%s is started...", AppVersion)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msgf("Calling v%s is quitting...", AppVersion)

	quartz.Stop()
	bus.Close()
}
