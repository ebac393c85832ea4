package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	StorageMongo  = "mongo"
	StorageMemory = "memory"
)

type Config struct {
	Port    string
	Storage string

	MongoURI          string
	DBName            string
	MongoTransactions bool
	MongoClient       *mongo.Client

	JWTSecret string
	JWTTTL    time.Duration

	Location    *time.Location
	CORSOrigins []string

	LogLevel  string
	LogFormat string

	CloudinaryCloudName string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string

	RepairSchedule string

	AdminUsername string
	AdminPassword string
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		Port:                getEnvOrDefault("PORT", "8080"),
		Storage:             strings.ToLower(getEnvOrDefault("STORAGE", StorageMongo)),
		MongoURI:            firstEnv("MONGODB_URI", "MONGO_URL", "MONGO_CONNECTION"),
		DBName:              getEnvOrDefault("DB_NAME", "calendar"),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "text"),
		CloudinaryCloudName: os.Getenv("CLOUDINARY_CLOUD_NAME"),
		CloudinaryAPIKey:    os.Getenv("CLOUDINARY_API_KEY"),
		CloudinaryAPISecret: os.Getenv("CLOUDINARY_API_SECRET"),
		RepairSchedule:      getEnvOrDefault("REPAIR_SCHEDULE", "@every 5m"),
		AdminUsername:       os.Getenv("ADMIN_USERNAME"),
		AdminPassword:       os.Getenv("ADMIN_PASSWORD"),
	}

	var err error
	if cfg.MongoTransactions, err = parseBool("MONGO_TRANSACTIONS", true); err != nil {
		return nil, err
	}
	if cfg.JWTTTL, err = time.ParseDuration(getEnvOrDefault("JWT_TTL", "168h")); err != nil {
		return nil, fmt.Errorf("JWT_TTL: %w", err)
	}
	if cfg.Location, err = time.LoadLocation(getEnvOrDefault("CALENDAR_TIMEZONE", "Local")); err != nil {
		return nil, fmt.Errorf("CALENDAR_TIMEZONE: %w", err)
	}
	for _, origin := range strings.Split(getEnvOrDefault("CORS_ORIGINS", "*"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, origin)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	switch c.Storage {
	case StorageMongo:
		if c.MongoURI == "" {
			return errors.New("missing MongoDB connection string: set MONGODB_URI (or MONGO_URL / MONGO_CONNECTION)")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("STORAGE must be %q or %q, got %q", StorageMongo, StorageMemory, c.Storage)
	}
	return nil
}

// CloudinaryEnabled reports whether image uploads are configured.
func (c *Config) CloudinaryEnabled() bool {
	return c.CloudinaryCloudName != "" && c.CloudinaryAPIKey != "" && c.CloudinaryAPISecret != ""
}

// Connect opens the Mongo client and fails fast when the server is unreachable.
func (c *Config) Connect(ctx context.Context, log *slog.Logger) error {
	log.Info("connecting to mongo", "uri", MaskURI(c.MongoURI), "db", c.DBName)

	opts := options.Client().
		ApplyURI(c.MongoURI).
		SetServerSelectionTimeout(10 * time.Second).
		SetConnectTimeout(10 * time.Second).
		SetSocketTimeout(45 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return fmt.Errorf("ping mongo: %w", err)
	}

	c.MongoClient = client
	log.Info("mongo connected", "db", c.DBName, "transactions", c.MongoTransactions)
	return nil
}

func (c *Config) Disconnect(ctx context.Context) error {
	if c.MongoClient == nil {
		return nil
	}
	err := c.MongoClient.Disconnect(ctx)
	c.MongoClient = nil
	return err
}

var credentialsPattern = regexp.MustCompile(`://.*@`)

// MaskURI hides the user:pass portion of a connection string.
func MaskURI(uri string) string {
	if uri == "" {
		return "(none)"
	}
	return credentialsPattern.ReplaceAllString(uri, "://****@")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func parseBool(key string, defaultValue bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}
