package morphia

import (
	"time"

	"github.com/MorphiaOrg/morphia/mapping"
	"github.com/MorphiaOrg/morphia/telemetry"
	"github.com/MorphiaOrg/morphia/util"
	"github.com/mitchellh/mapstructure"
	"github.com/mongodb/grip"
	"github.com/pkg/errors"
)

const (
	DefaultURI              = "mongodb://localhost:27017"
	DefaultConnectTimeout   = 5 * time.Second
	DefaultOperationTimeout = 30 * time.Second
	DefaultConnectRetries   = 3
)

// Config holds the datastore settings. It can be read from YAML or from an
// already parsed map.
type Config struct {
	URI      string `yaml:"uri" mapstructure:"uri"`
	Database string `yaml:"database" mapstructure:"database"`

	ApplyIndexes             bool `yaml:"applyIndexes" mapstructure:"applyIndexes"`
	ApplyCaps                bool `yaml:"applyCaps" mapstructure:"applyCaps"`
	ApplyDocumentValidations bool `yaml:"applyDocumentValidations" mapstructure:"applyDocumentValidations"`

	CollectionNaming mapping.NamingStrategy        `yaml:"collectionNaming" mapstructure:"collectionNaming"`
	PropertyNaming   mapping.NamingStrategy        `yaml:"propertyNaming" mapstructure:"propertyNaming"`
	DiscriminatorKey string                        `yaml:"discriminatorKey" mapstructure:"discriminatorKey"`
	Discriminator    mapping.DiscriminatorFunction `yaml:"discriminator" mapstructure:"discriminator"`
	StoreNulls       bool                          `yaml:"storeNulls" mapstructure:"storeNulls"`
	StoreEmpties     bool                          `yaml:"storeEmpties" mapstructure:"storeEmpties"`

	EnablePolymorphicQueries bool `yaml:"enablePolymorphicQueries" mapstructure:"enablePolymorphicQueries"`

	ConnectTimeout   time.Duration `yaml:"connectTimeout" mapstructure:"connectTimeout"`
	OperationTimeout time.Duration `yaml:"operationTimeout" mapstructure:"operationTimeout"`
	ConnectRetries   int           `yaml:"connectRetries" mapstructure:"connectRetries"`

	// CacheLifetime is how long documents stay in a context's entity cache.
	CacheLifetime time.Duration `yaml:"cacheLifetime" mapstructure:"cacheLifetime"`

	Tracer telemetry.Config `yaml:"tracer" mapstructure:"tracer"`
}

// DefaultConfig returns the settings used for anything a loaded
// configuration leaves out.
func DefaultConfig() Config {
	opts := mapping.DefaultOptions()
	return Config{
		URI:              DefaultURI,
		ApplyIndexes:     true,
		ApplyCaps:        true,
		CollectionNaming: opts.CollectionNaming,
		PropertyNaming:   opts.PropertyNaming,
		DiscriminatorKey: opts.DiscriminatorKey,
		Discriminator:    opts.Discriminator,
		ConnectTimeout:   DefaultConnectTimeout,
		OperationTimeout: DefaultOperationTimeout,
		ConnectRetries:   DefaultConnectRetries,
	}
}

// LoadConfig reads the YAML file at path over the defaults and validates
// the result.
func LoadConfig(path string) (*Config, error) {
	raw := map[string]any{}
	if err := util.ReadFromYAMLFile(path, &raw); err != nil {
		return nil, errors.Wrapf(err, "reading config file '%s'", path)
	}
	conf, err := ConfigFromMap(raw)
	return conf, errors.Wrapf(err, "loading config file '%s'", path)
}

// ConfigFromMap decodes values over the defaults and validates the result.
// Durations may be given as strings such as "10s". Unknown keys are errors.
func ConfigFromMap(values map[string]any) (*Config, error) {
	conf := DefaultConfig()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           &conf,
	})
	if err != nil {
		return nil, errors.Wrap(err, "making config decoder")
	}
	if err = decoder.Decode(values); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	if err = conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	catcher := grip.NewBasicCatcher()
	catcher.NewWhen(c.URI == "", "uri must not be empty")
	catcher.NewWhen(c.Database == "", "database must not be empty")
	catcher.Wrap(c.CollectionNaming.Validate(), "collectionNaming")
	catcher.Wrap(c.PropertyNaming.Validate(), "propertyNaming")
	catcher.Wrap(c.Discriminator.Validate(), "discriminator")
	catcher.NewWhen(c.DiscriminatorKey == "", "discriminatorKey must not be empty")
	catcher.NewWhen(c.DiscriminatorKey == "_id", "discriminatorKey cannot be '_id'")
	catcher.ErrorfWhen(c.ConnectTimeout < 0, "connectTimeout cannot be negative (%s)", c.ConnectTimeout)
	catcher.ErrorfWhen(c.OperationTimeout < 0, "operationTimeout cannot be negative (%s)", c.OperationTimeout)
	catcher.ErrorfWhen(c.CacheLifetime < 0, "cacheLifetime cannot be negative (%s)", c.CacheLifetime)
	catcher.ErrorfWhen(c.ConnectRetries < 0, "connectRetries cannot be negative (%d)", c.ConnectRetries)
	catcher.Wrap(c.Tracer.Validate(), "tracer")
	return errors.Wrap(catcher.Resolve(), "invalid config")
}

// MapperOptions returns the mapping options the configuration selects.
func (c *Config) MapperOptions() mapping.Options {
	return mapping.Options{
		CollectionNaming: c.CollectionNaming,
		PropertyNaming:   c.PropertyNaming,
		DiscriminatorKey: c.DiscriminatorKey,
		Discriminator:    c.Discriminator,
		StoreNulls:       c.StoreNulls,
		StoreEmpties:     c.StoreEmpties,
	}
}
