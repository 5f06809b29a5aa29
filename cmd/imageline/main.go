package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/urfave/cli/v2"

	"github.com/coursekit/imageline/config"
	"github.com/coursekit/imageline/internal/api"
	"github.com/coursekit/imageline/internal/metadata"
	"github.com/coursekit/imageline/internal/normalize"
	"github.com/coursekit/imageline/internal/receiver"
	"github.com/coursekit/imageline/internal/staging"
	"github.com/coursekit/imageline/internal/storage"
	"github.com/coursekit/imageline/pkg/client"
	"github.com/coursekit/imageline/pkg/env"
	"github.com/coursekit/imageline/pkg/logging"
)

func main() {
	env.LoadEnv()

	app := &cli.App{
		Name:  "imageline",
		Usage: "Chunked image upload and normalization service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Value: ".",
				Usage: "Directory containing config.yaml",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Action: runServer,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the upload server (default)",
				Action: runServer,
			},
			{
				Name:  "upload",
				Usage: "Upload a file through a running imageline server",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "server", Value: "http://localhost:8080", Usage: "Server base URL"},
					&cli.StringFlag{Name: "owner", Required: true, Usage: "Owner context id scoping the stored artifact"},
					&cli.Int64Flag{Name: "chunk-size", Usage: "Chunk size in bytes (0 = auto)"},
				},
				Action: runUpload,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logging.InitLogger(false)
		logging.Log.Fatal(err)
	}
}

func runServer(c *cli.Context) error {
	logging.InitLogger(c.Bool("debug"))
	config.LoadConfig(c.String("config"))
	cfg := config.Config
	log := logging.WithComponent("main")

	stagingStore, err := staging.NewFSStore(cfg.StagingRoot, cfg.CompressStaging)
	if err != nil {
		return fmt.Errorf("failed to init staging store: %w", err)
	}

	records, err := metadata.OpenMetadataStore(cfg.MetadataPath)
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer records.Close()

	backend, err := buildStorage(cfg)
	if err != nil {
		return err
	}

	format, err := normalize.ParseFormat(cfg.TargetFormat)
	if err != nil {
		return err
	}
	fit, err := normalize.ParseFit(cfg.ResizeFit)
	if err != nil {
		return err
	}
	norm := normalize.New(cfg.MaxImageBytes, normalize.Options{
		MaxWidth:  cfg.MaxWidth,
		MaxHeight: cfg.MaxHeight,
		Quality:   cfg.Quality,
		Format:    format,
		Fit:       fit,
	})

	rcv := receiver.NewReceiver(stagingStore, norm, backend, records)
	handler := api.NewHandler(rcv, stagingStore, records)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler.NewRouter(),
		ReadTimeout:  300 * time.Second,
		WriteTimeout: 300 * time.Second,
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go runSweeper(sweepCtx, stagingStore,
		time.Duration(cfg.SweepIntervalMinutes)*time.Minute,
		time.Duration(cfg.StagingTTLMinutes)*time.Minute)

	errCh := make(chan error, 1)
	go func() {
		log.Infof("🚀 imageline listening on :%d", cfg.Port)
		errCh <- server.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server exited: %w", err)
	case sig := <-quit:
		log.Infof("received %s, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	log.Info("✅ Shutdown complete")
	return nil
}

func runUpload(c *cli.Context) error {
	logging.InitLogger(c.Bool("debug"))
	log := logging.WithComponent("upload")

	if c.NArg() != 1 {
		return fmt.Errorf("usage: imageline upload --owner <id> <file>")
	}
	filePath := c.Args().First()

	uploader := client.NewClient(c.String("server"), c.Int64("chunk-size"))
	url, err := uploader.UploadFile(context.Background(), filePath, c.String("owner"),
		func(sent, total int) {
			log.Infof("sent chunk %d/%d", sent, total)
		})
	if err != nil {
		return err
	}

	fmt.Println(url)
	return nil
}

func buildStorage(cfg *config.AppConfig) (storage.Storage, error) {
	switch cfg.StorageBackend {
	case "s3":
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(cfg.S3Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load aws config: %w", err)
		}
		s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.S3Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.S3Endpoint)
				o.UsePathStyle = true
			}
		})
		return storage.NewS3Storage(s3Client, cfg.S3Bucket, cfg.S3Region, cfg.S3Endpoint), nil
	case "local":
		return storage.NewLocalStorage(cfg.StorageRoot, cfg.PublicBaseURL)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// runSweeper periodically discards staging areas older than the TTL so
// abandoned uploads do not accumulate forever.
func runSweeper(ctx context.Context, store staging.Store, interval, ttl time.Duration) {
	log := logging.WithComponent("sweeper")
	if interval <= 0 || ttl <= 0 {
		log.Warn("sweeper disabled: non-positive interval or ttl")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.Sweep(ttl)
			if err != nil {
				log.Errorf("sweep failed: %v", err)
				continue
			}
			if removed > 0 {
				log.Infof("swept %d orphaned staging area(s)", removed)
			}
		}
	}
}
