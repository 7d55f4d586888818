package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/spf13/viper"

	"github.com/LeonardoBeccarini/soil_processor/internal/services/processor"
	"github.com/LeonardoBeccarini/soil_processor/pkg/logger"
	"github.com/LeonardoBeccarini/soil_processor/pkg/rabbitmq"
)

func main() {
	boot := logger.New(logger.InfoLevel)
	cfg, err := loadConfig(viper.New())
	if err != nil {
		boot.Fatalw("error reading config", "err", err)
	}
	log := logger.Get(cfg.Log.Level).Named("processor")

	clientID := cfg.MQTT.ClientID
	if clientID == "" {
		clientID = "soil-processor-" + uuid.NewString()[:8]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The connection outlives ctx so queued readings can still be published
	// while the dispatcher drains.
	connCtx, connCancel := context.WithCancel(context.Background())
	defer connCancel()

	// === InfluxDB (optional) ===
	var (
		points processor.PointSink
		writer *processor.SummaryWriter
	)
	if cfg.Influx.Enabled {
		opts := influxdb2.DefaultOptions().
			SetBatchSize(cfg.Influx.BatchSize).
			SetFlushInterval(uint(cfg.Influx.FlushInterval.Milliseconds()))
		influx := influxdb2.NewClientWithOptions(cfg.Influx.URL, cfg.Influx.Token, opts)
		defer influx.Close()
		writer = processor.NewSummaryWriter(influx.WriteAPI(cfg.Influx.Org, cfg.Influx.Bucket), log.Named("influx"))
		defer writer.Flush()
		points = writer
		log.Infow("fleet summaries will be written to influx", "url", cfg.Influx.URL, "bucket", cfg.Influx.Bucket)
	}

	// === MQTT ===
	conn, err := rabbitmq.NewRabbitMQConn(connCtx, cfg.rabbit(clientID), log.Named("mqtt"))
	if err != nil {
		log.Fatalw("mqtt connection error", "err", err)
	}
	defer rabbitmq.CloseRabbitMQConn(conn, log)

	consumer := rabbitmq.NewConsumer(conn, []string{cfg.Topics.Raw}, nil, log.Named("consumer"))
	publisher := rabbitmq.NewPublisher(conn, cfg.Topics.Summary, cfg.publisher(), log.Named("mqtt-publisher"))

	svc := processor.NewProcessorService(consumer, publisher, points, cfg.service(), log)

	// === HTTP ===
	api := processor.NewAPI(svc, conn, writer, cfg.HTTP)
	hs := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTP.Port),
		Handler:           api.NewRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Infow("http listening", "port", cfg.HTTP.Port)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("http server error", "err", err)
		}
	}()

	if err := svc.Start(ctx); err != nil {
		log.Errorw("processor exited with error", "err", err)
	}

	shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shCancel()
	if err := hs.Shutdown(shCtx); err != nil {
		log.Warnw("http shutdown", "err", err)
	}
	log.Infow("bye")
}
