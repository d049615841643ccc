package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/pbinitiative/zenpath/pkg/storage/cache"
)

const (
	StorageBackendInMemory = "inmemory"
	StorageBackendBolt     = "bolt"
)

type Config struct {
	Name       string  `yaml:"name" json:"name" env:"APP_NAME" env-default:"zenpath"` // used for OTEL as an application identifier
	HttpServer Server  `yaml:"httpServer" json:"httpServer"`                          // configuration of the public REST server
	Tracing    Tracing `yaml:"tracing" json:"tracing"`
	Storage    Storage `yaml:"storage" json:"storage"`
	Script     Script  `yaml:"script" json:"script"`
}

type Server struct {
	Context        string   `yaml:"context" json:"context" env:"REST_API_CONTEXT" env-default:"/"`
	Addr           string   `yaml:"addr" json:"addr" env:"REST_API_ADDR" env-default:":8080"`
	AllowedOrigins []string `yaml:"allowedOrigins" json:"allowedOrigins" env:"REST_API_ALLOWED_ORIGINS" env-separator:","` // browser origins allowed by CORS, every origin when empty
}

type Tracing struct {
	Enabled  bool   `yaml:"enabled" json:"enabled" env:"OTEL_ENABLED"`
	Endpoint string `yaml:"endpoint" json:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT" env-default:"localhost:4318"`
	Name     string `yaml:"name" json:"name" env:"OTEL_SERVICE_NAME" env-default:"zenpath"`
	// TransferHeaders are request headers copied onto server spans and into the request context
	TransferHeaders []string `yaml:"transferHeaders" json:"transferHeaders" env:"OTEL_TRANSFER_HEADERS" env-separator:","`
}

type Storage struct {
	Backend     string        `yaml:"backend" json:"backend" env:"STORAGE_BACKEND" env-default:"inmemory"`
	BoltPath    string        `yaml:"boltPath" json:"boltPath" env:"STORAGE_BOLT_PATH" env-default:"zenpath.db"`
	BoltTimeout time.Duration `yaml:"boltTimeout" json:"boltTimeout" env:"STORAGE_BOLT_TIMEOUT" env-default:"1s"`
	Cache       cache.Config  `yaml:"cache" json:"cache"`
}

type Script struct {
	MaxVmPoolSize int `yaml:"maxVmPoolSize" json:"maxVmPoolSize" env:"SCRIPT_MAX_VM_POOL_SIZE" env-default:"8"`
	MinVmPoolSize int `yaml:"minVmPoolSize" json:"minVmPoolSize" env:"SCRIPT_MIN_VM_POOL_SIZE" env-default:"1"`
}

func (c Config) validate() error {
	switch c.Storage.Backend {
	case StorageBackendInMemory, StorageBackendBolt:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Script.MaxVmPoolSize < c.Script.MinVmPoolSize {
		return fmt.Errorf("script vm pool max size %d is smaller than min size %d", c.Script.MaxVmPoolSize, c.Script.MinVmPoolSize)
	}
	return nil
}

// LoadConfig reads fileName when it exists and the environment otherwise.
// Environment variables override values from the file.
func LoadConfig(fileName string) (Config, error) {
	c := Config{}
	var err error
	if _, perr := os.Stat(fileName); errors.Is(perr, os.ErrNotExist) {
		err = cleanenv.ReadEnv(&c)
	} else {
		err = cleanenv.ReadConfig(fileName, &c)
	}
	if err != nil {
		return c, fmt.Errorf("failed to read configuration: %w", err)
	}
	if err := c.validate(); err != nil {
		return c, err
	}
	return c, nil
}

// FileName is $CONFIG_FILE or conf.yaml in the working directory.
func FileName() string {
	if confFile := os.Getenv("CONFIG_FILE"); confFile != "" {
		return confFile
	}
	wd, err := os.Getwd()
	if err != nil {
		panic(err)
	}
	return filepath.Join(wd, "conf.yaml")
}

func InitConfig() Config {
	fileName := FileName()
	if _, err := os.Stat(fileName); errors.Is(err, os.ErrNotExist) {
		fmt.Printf("Configuration file %s not found. Reading config from ENV.\n", fileName)
	}
	c, err := LoadConfig(fileName)
	if err != nil {
		fmt.Printf("Error occurred while reading the configuration: %s\n", err)
		panic(err)
	}
	return c
}
