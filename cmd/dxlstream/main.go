package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opendxl/opendxl-streaming-client-go/client"
	"github.com/opendxl/opendxl-streaming-client-go/client/auth"
	"github.com/opendxl/opendxl-streaming-client-go/internal/observability"
	_ "go.uber.org/automaxprocs"
	"gopkg.in/yaml.v3"
)

var (
	Commit string
)

type Config struct {
	Log           LogConfig            `yaml:"log"`
	Base          string               `yaml:"base"`
	Channel       client.ChannelConfig `yaml:"channel"`
	Auth          AuthConfig           `yaml:"auth"`
	Run           RunConfig            `yaml:"run"`
	Observability observability.Config `yaml:"observability"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Type  string `yaml:"type"`
}

type AuthConfig struct {
	Login             *auth.LoginConfig             `yaml:"login"`
	ClientCredentials *auth.ClientCredentialsConfig `yaml:"client_credentials"`
}

type RunConfig struct {
	Topics             []string      `yaml:"topics"`
	WaitBetweenQueries time.Duration `yaml:"wait_between_queries"`
}

func main() {
	if len(os.Args) > 2 {
		log.Fatal("invalid args")
	}
	confPath := ""
	if len(os.Args) == 2 {
		confPath = os.Args[1]
	}
	var conf Config
	if err := loadConfig(confPath, &conf); err != nil {
		log.Fatal(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	logLevel := parseLogLevel(conf.Log.Level)
	var logger *slog.Logger
	switch conf.Log.Type {
	case "json":
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		}))
	default:
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		}))
	}

	logger.Info("starting dxlstream consumer")
	logger.Info(fmt.Sprintf("commit: %s", Commit))

	shutdownObs, err := observability.Init(ctx, conf.Observability, logger)
	if err != nil {
		logger.Error(fmt.Errorf("init observability: %w", err).Error())
		os.Exit(1)
	}
	defer shutdownObs(context.Background())

	opts := []client.Option{client.WithLogger(logger)}

	switch {
	case conf.Auth.Login != nil:
		a, err := auth.NewLogin(*conf.Auth.Login, auth.WithLogger(logger))
		if err != nil {
			logger.Error(fmt.Errorf("build login auth: %w", err).Error())
			os.Exit(1)
		}
		opts = append(opts, client.WithAuth(a))
	case conf.Auth.ClientCredentials != nil:
		a, err := auth.NewClientCredentials(*conf.Auth.ClientCredentials, auth.WithLogger(logger))
		if err != nil {
			logger.Error(fmt.Errorf("build client credentials auth: %w", err).Error())
			os.Exit(1)
		}
		opts = append(opts, client.WithAuth(a))
	}

	ch, err := client.NewChannel(conf.Base, conf.Channel, opts...)
	if err != nil {
		logger.Error(fmt.Errorf("new channel: %w", err).Error())
		os.Exit(1)
	}

	go func() {
		<-ctx.Done()
		if err := ch.Stop(context.Background()); err != nil {
			logger.Error("stop channel", "err", err)
		}
	}()

	err = ch.Run(ctx, func(_ context.Context, records []client.Record) (bool, error) {
		for _, rec := range records {
			fmt.Printf("%s[%d]@%d: %s\n", rec.Topic, rec.Partition, rec.Offset, rec.Payload)
		}
		return true, nil
	}, client.RunConfig{
		Topics:             conf.Run.Topics,
		WaitBetweenQueries: conf.Run.WaitBetweenQueries,
	})
	if err != nil {
		logger.Error(fmt.Errorf("run: %w", err).Error())
	}

	if err := ch.Destroy(context.Background()); err != nil {
		logger.Error("destroy channel", "err", err)
	}
}

func parseLogLevel(name string) slog.Level {
	switch strings.ToUpper(name) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func loadConfig(filePath string, cfg *Config) error {
	paths := []string{}

	if filePath == "" {
		paths = append(paths, "./config.yaml", "conf/config.yaml", "config/config.yaml")
	} else {
		paths = append(paths, filePath)
	}

	for _, p := range paths {
		f, err := os.Open(p)
		if err == nil {
			defer f.Close()
			log.Printf("found config file in: %s\n", p)
			data, err := io.ReadAll(f)
			if err != nil {
				return fmt.Errorf("read config: %w", err)
			}

			if err := yaml.Unmarshal(data, cfg); err != nil {
				return fmt.Errorf("unmarshal config: %w", err)
			}

			return nil
		}
	}

	return fmt.Errorf("config file not found")
}
