package cfg

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "ARIESDB"

const (
	EnvDev  Environment = "dev"
	EnvProd Environment = "prod"

	DefaultEnv = EnvDev
)

type Environment string

func (e Environment) Validate() error {
	if e != EnvDev && e != EnvProd {
		return errors.New("environment must be either dev or prod")
	}

	return nil
}

type Config struct {
	Environment Environment `default:"dev"`

	DataDir            string        `default:"./data" split_words:"true"`
	BufferPoolSize     uint64        `default:"256"    split_words:"true"`
	CheckpointInterval time.Duration `default:"30s"    split_words:"true"`
}

func (c Config) Validate() error {
	if err := c.Environment.Validate(); err != nil {
		return fmt.Errorf("environment validation: %w", err)
	}

	if c.DataDir == "" {
		return errors.New("data dir must not be empty")
	}

	if c.BufferPoolSize == 0 {
		return errors.New("buffer pool size must be greater than zero")
	}

	if c.CheckpointInterval < 0 {
		return errors.New("checkpoint interval must not be negative")
	}

	return nil
}

// Load reads path/.env when it exists and then the ARIESDB_* environment.
// Variables already set in the environment win over the file.
func Load(path string) (Config, error) {
	err := godotenv.Load(filepath.Join(path, ".env"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var c Config
	if err := envconfig.Process(envPrefix, &c); err != nil {
		return Config{}, fmt.Errorf("envconfig processing: %w", err)
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}

	return c, nil
}

func MustLoad(path string) Config {
	c, err := Load(path)
	if err != nil {
		panic(err)
	}

	return c
}
