// Package config holds the run configuration of the reaper. Defaults mirror
// the values the tool has always shipped with; a YAML file may override them.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"instance-reaper/src/provider"
)

// Tag keys written on every backup image.
const (
	// DiscriminatorKey marks an image as produced by the reaper. Its value is
	// the UTC time of the run that created the image.
	DiscriminatorKey = "created_from_stopped"
	// CreatorKey attributes the image to the configured creator.
	CreatorKey = "creator"
	// DefaultZoneKey carries the placement zone of the source instance.
	DefaultZoneKey = "AvailabilityZone"
)

// discriminatorTimeLayout formats the DiscriminatorKey value.
const discriminatorTimeLayout = "2006-01-02 15:04:05 UTC"

// Config is the full run configuration. It is built once and passed by value.
type Config struct {
	Hostnames        []string      `yaml:"hostnames" validate:"required,min=1,dive,hostname_rfc1123"`
	MaxImageAge      time.Duration `yaml:"max_image_age" validate:"gt=0"`
	CheckTimeout     time.Duration `yaml:"check_timeout" validate:"gt=0"`
	ImageWaitTimeout time.Duration `yaml:"image_wait_timeout" validate:"gt=0"`
	TCPPort          int           `yaml:"tcp_port" validate:"min=1,max=65535"`
	HTTPPort         int           `yaml:"http_port" validate:"min=1,max=65535"`
	Creator          string        `yaml:"creator" validate:"required"`
	ZoneKey          string        `yaml:"zone_key" validate:"required"`
	Target           string        `yaml:"target"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Hostnames:        []string{"a.reals.org.ua", "b.reals.org.ua", "c.reals.org.ua"},
		MaxImageAge:      7 * 24 * time.Hour,
		CheckTimeout:     5 * time.Second,
		ImageWaitTimeout: 10 * time.Minute,
		TCPPort:          22,
		HTTPPort:         80,
		Creator:          "av.nast",
		ZoneKey:          DefaultZoneKey,
		Target:           "ec2",
	}
}

var validate = validator.New()

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Load reads a YAML file over the defaults. An empty path returns Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads YAML from r over the defaults and validates the result.
func Decode(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

// DiscriminatorTags returns the tag set stamped on images created at now.
func (c Config) DiscriminatorTags(now time.Time) provider.Tags {
	return provider.Tags{
		{Key: DiscriminatorKey, Value: now.UTC().Format(discriminatorTimeLayout)},
		{Key: CreatorKey, Value: c.Creator},
	}
}

// RequiredKeys returns the keys every sweepable image must carry.
func (c Config) RequiredKeys() []string {
	return []string{DiscriminatorKey, CreatorKey}
}
