package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"gopkg.in/yaml.v3"

	"github.com/jacoelt/backrecorder/internal/capture"
	"github.com/jacoelt/backrecorder/internal/cleanup"
	"github.com/jacoelt/backrecorder/internal/cloud"
	"github.com/jacoelt/backrecorder/internal/handlers"
	"github.com/jacoelt/backrecorder/internal/merge"
	"github.com/jacoelt/backrecorder/internal/queue"
	"github.com/jacoelt/backrecorder/internal/storage"
	"github.com/jacoelt/backrecorder/internal/vault"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		Port int    `yaml:"port"`
		Host string `yaml:"host"`
	} `yaml:"server"`

	Recording struct {
		WorkDir                string `yaml:"work_dir"`
		SegmentSeconds         int    `yaml:"segment_seconds"`
		DefaultDurationMinutes int    `yaml:"default_duration_minutes"`
		Channels               int    `yaml:"channels"`
		SampleRate             int    `yaml:"sample_rate"`
		BitRate                int    `yaml:"bit_rate"`
		InputFormat            string `yaml:"input_format"`
		InputName              string `yaml:"input_name"`
	} `yaml:"recording"`

	Workers struct {
		Count int `yaml:"count"`
	} `yaml:"workers"`

	Storage struct {
		TempDir   string `yaml:"temp_dir"`
		OutputDir string `yaml:"output_dir"`
		Database  string `yaml:"database"`
	} `yaml:"storage"`

	Cleanup struct {
		IntervalMinutes int `yaml:"interval_minutes"`
		MaxAgeHours     int `yaml:"max_age_hours"`
	} `yaml:"cleanup"`

	GoogleDrive struct {
		Enabled                bool   `yaml:"enabled"`
		ClientID               string `yaml:"client_id"`
		ClientSecret           string `yaml:"client_secret"`
		RedirectURL            string `yaml:"redirect_url"`
		FinalFolder            string `yaml:"final_folder"`
		StagingFolder          string `yaml:"staging_folder"`
		MaxStagingFiles        int    `yaml:"max_staging_files"`
		StagingUploadEnabled   bool   `yaml:"staging_upload_enabled"`
		VaultDir               string `yaml:"vault_dir"`
		VaultEncryptionKeyHex  string `yaml:"vault_encryption_key_hex"`
	} `yaml:"google_drive"`
}

func main() {
	// Load configuration
	config, err := loadConfig("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Ensure directories exist
	for _, dir := range []string{
		config.Recording.WorkDir,
		config.Storage.TempDir,
		config.Storage.OutputDir,
	} {
		if err := cleanup.EnsureDirExists(dir); err != nil {
			log.Fatalf("Failed to create directory %s: %v", dir, err)
		}
	}

	// Custom logger setup
	logBuffer := &LogBuffer{
		lines: make([]string, 0, 1000),
	}
	multiWriter := io.MultiWriter(os.Stdout, logBuffer)
	log.SetOutput(multiWriter)

	log.Println("Initializing components...")

	// Credential vault
	var encryptionKey []byte
	if config.GoogleDrive.VaultEncryptionKeyHex != "" {
		encryptionKey, err = hex.DecodeString(config.GoogleDrive.VaultEncryptionKeyHex)
		if err != nil {
			log.Fatalf("Invalid vault encryption key: %v", err)
		}
	} else {
		log.Println("WARNING: vault encryption key not set - secrets stored unencrypted")
	}
	credVault, err := vault.Open(config.GoogleDrive.VaultDir, encryptionKey)
	if err != nil {
		log.Fatalf("Failed to open credential vault: %v", err)
	}
	defer credVault.Close()

	// Capture device and recorder
	device := capture.NewFFmpegDevice(config.Recording.InputFormat, config.Recording.InputName)
	recorder := capture.NewRecorder(
		device,
		config.Recording.WorkDir,
		time.Duration(config.Recording.SegmentSeconds)*time.Second,
		capture.Format{
			Channels:   config.Recording.Channels,
			SampleRate: config.Recording.SampleRate,
			BitRate:    config.Recording.BitRate,
			Codec:      "libopus",
			Container:  "ogg",
		},
	)
	recorder.RegisterObserver(func(retained int) {
		log.Printf("Retained segments: %d", retained)
	})

	// Merge engine
	merger := merge.NewEngine(merge.FFmpegExecutor{})

	// Local storage
	localStorage := storage.NewLocalStorage(config.Storage.OutputDir)

	// Cloud sync manager
	cloudManager := cloud.NewManager(credVault, cloud.Options{
		OAuth: &oauth2.Config{
			ClientID:     config.GoogleDrive.ClientID,
			ClientSecret: config.GoogleDrive.ClientSecret,
			RedirectURL:  config.GoogleDrive.RedirectURL,
			Scopes:       []string{"https://www.googleapis.com/auth/drive.file"},
			Endpoint:     google.Endpoint,
		},
		FinalFolderName:   config.GoogleDrive.FinalFolder,
		StagingFolderName: config.GoogleDrive.StagingFolder,
		Settings: func() cloud.Settings {
			return cloud.Settings{
				Enabled:         config.GoogleDrive.Enabled,
				MaxStagingFiles: config.GoogleDrive.MaxStagingFiles,
			}
		},
	})

	// Database
	db, err := storage.NewMetadataDB(config.Storage.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// Worker pool
	workerPool := queue.NewWorkerPool(
		config.Workers.Count,
		merger,
		localStorage,
		cloudManager,
		db,
		config.Storage.TempDir,
	)
	workerPool.Start()

	// Orphan sweeper for the working directory
	sweeper := cleanup.NewSweeper(
		config.Recording.WorkDir,
		time.Duration(config.Cleanup.IntervalMinutes)*time.Minute,
		time.Duration(config.Cleanup.MaxAgeHours)*time.Hour,
		recorder.IsRecording,
	)
	sweeper.Start()
	defer sweeper.Stop()

	// Rolling staging upload of the newest closed segment
	if config.GoogleDrive.Enabled && config.GoogleDrive.StagingUploadEnabled {
		stagingUploader := cloud.NewStagingUploader(
			cloudManager,
			time.Duration(config.Recording.SegmentSeconds)*time.Second,
			func() (string, bool) {
				segments := recorder.Snapshot()
				if len(segments) == 0 {
					return "", false
				}
				return segments[len(segments)-1].Path, true
			},
		)
		stagingUploader.Start()
		defer stagingUploader.Stop()
	}

	// Create Fiber app
	app := fiber.New()

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	// Initialize handlers
	recordHandler := handlers.NewRecordHandler(recorder,
		config.Recording.DefaultDurationMinutes, config.Recording.SegmentSeconds)
	saveHandler := handlers.NewSaveHandler(recorder, workerPool, config.Recording.SegmentSeconds)
	authHandler := handlers.NewAuthHandler(cloudManager)
	statusHandler := handlers.NewStatusHandler(recorder, cloudManager,
		config.Recording.BitRate, config.Recording.SegmentSeconds)

	// Routes
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"version": "1.0.0",
		})
	})

	app.Post("/record/start", recordHandler.HandleStart)
	app.Post("/record/stop", recordHandler.HandleStop)
	app.Post("/save", saveHandler.Handle)
	app.Get("/save/:id", saveHandler.HandleStatus)
	app.Get("/auth/signin", authHandler.HandleSignIn)
	app.Get("/auth/callback", authHandler.HandleCallback)
	app.Post("/auth/setup", authHandler.HandleSetup)

	// WebSocket route
	app.Get("/ws/status", websocket.New(statusHandler.Handle))

	// List saved recordings
	app.Get("/recordings", func(c *fiber.Ctx) error {
		recordings, err := db.ListRecordings(50)
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(recordings)
	})

	// Get server logs
	app.Get("/logs", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"logs": logBuffer.GetLogs(),
		})
	})

	// Start server
	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)
	log.Printf("Server starting on %s", addr)

	// Graceful shutdown
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Println("Shutting down gracefully...")
		recorder.Stop()
		app.Shutdown()
	}()

	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// LogBuffer captures logs in memory
type LogBuffer struct {
	lines []string
	mu    sync.Mutex
}

func (lb *LogBuffer) Write(p []byte) (n int, err error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.lines = append(lb.lines, string(p))

	// Keep last 1000 lines
	if len(lb.lines) > 1000 {
		lb.lines = lb.lines[len(lb.lines)-1000:]
	}

	return len(p), nil
}

func (lb *LogBuffer) GetLogs() []string {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	logs := make([]string, len(lb.lines))
	copy(logs, lb.lines)
	return logs
}

// loadConfig loads configuration from YAML file
func loadConfig(path string) (*Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := yaml.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	return &config, nil
}
