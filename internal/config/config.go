package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full application configuration.
type Config struct {
	Appliance ApplianceConfig `mapstructure:"appliance"`
	Script    ScriptConfig    `mapstructure:"script"`
	Transfer  TransferConfig  `mapstructure:"transfer"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
}

// ApplianceConfig identifies the NAC appliance and its admin credentials.
type ApplianceConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Username       string        `mapstructure:"username"`
	KeyFile        string        `mapstructure:"key_file"`
	Password       string        `mapstructure:"password"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// ScriptConfig is the interaction script. The send/expect literals are
// vendor-specific and brittle, so they live in configuration rather than
// code; operators adapt them to menu text changes without a rebuild.
type ScriptConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Steps        []StepConfig  `mapstructure:"steps"`
}

// StepConfig is one send/expect/timeout unit. Send may contain the
// {file} and {repository} placeholders, expanded at run time.
type StepConfig struct {
	Name    string        `mapstructure:"name"`
	Send    string        `mapstructure:"send"`
	Expect  string        `mapstructure:"expect"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// TransferConfig describes where the appliance drops the report and how
// the file is named. The appliance names the export after the current
// date, e.g. FullReport_17-Aug-2026.csv.
type TransferConfig struct {
	SharePath  string `mapstructure:"share_path"`
	Repository string `mapstructure:"repository"`
	FilePrefix string `mapstructure:"file_prefix"`
	DateLayout string `mapstructure:"date_layout"`
	Extension  string `mapstructure:"extension"`
}

// ReportFileName returns the file the appliance produces for the given day.
func (t TransferConfig) ReportFileName(ts time.Time) string {
	return t.FilePrefix + ts.Format(t.DateLayout) + t.Extension
}

// StorageConfig is the object storage destination for published reports.
type StorageConfig struct {
	Minio  MinioConfig `mapstructure:"minio"`
	Prefix string      `mapstructure:"prefix"`
}

// MinioConfig is the S3-compatible endpoint.
type MinioConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Secure    bool   `mapstructure:"secure"`
}

// DatabaseConfig holds run-history storage. The exporter works without it;
// the history API server requires it.
type DatabaseConfig struct {
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

// SQLiteConfig configures the embedded database.
type SQLiteConfig struct {
	Path            string        `mapstructure:"path"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ServerConfig configures the run-history HTTP server.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LogConfig mirrors pkg/logger.Config.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

var globalConfig *Config

// Load reads the configuration file, applies defaults and environment
// overrides (NAC_EXPORT_ prefix), and validates the result.
func Load(configPath string) (*Config, error) {
	viper.SetConfigType("yaml")

	setDefaults()

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath("../configs")
		viper.AddConfigPath("../../configs")
	}

	viper.SetEnvPrefix("NAC_EXPORT")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// An absent script block means "drive a stock ISE-style appliance".
	if len(config.Script.Steps) == 0 {
		config.Script.Steps = DefaultSteps()
	}

	config = replaceEnvVars(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	globalConfig = &config
	return &config, nil
}

// Get returns the last successfully loaded configuration.
func Get() *Config {
	return globalConfig
}

// GetServerAddr returns the HTTP listen address.
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Validate rejects configurations that could never complete a run.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Appliance.Host) == "" {
		return fmt.Errorf("appliance.host is required")
	}
	if strings.TrimSpace(c.Appliance.Username) == "" {
		return fmt.Errorf("appliance.username is required")
	}
	if c.Appliance.KeyFile == "" && c.Appliance.Password == "" {
		return fmt.Errorf("appliance.key_file or appliance.password is required")
	}
	for i, step := range c.Script.Steps {
		if strings.TrimSpace(step.Expect) == "" {
			return fmt.Errorf("script.steps[%d] (%s): expect is required", i, step.Name)
		}
		if step.Timeout <= 0 {
			return fmt.Errorf("script.steps[%d] (%s): timeout must be positive", i, step.Name)
		}
	}
	if strings.TrimSpace(c.Transfer.SharePath) == "" {
		return fmt.Errorf("transfer.share_path is required")
	}
	if strings.TrimSpace(c.Storage.Minio.Bucket) == "" {
		return fmt.Errorf("storage.minio.bucket is required")
	}
	return nil
}

// DefaultSteps is the stock export script for an ISE-style appliance:
// wait for the admin prompt, enter the application configuration menu,
// select the All Endpoints report, wait out the (long) generation, leave
// the menu, then copy the file to the NFS repository.
func DefaultSteps() []StepConfig {
	return []StepConfig{
		{
			Name:    "initial-prompt",
			Expect:  "ise-ppan-cx/admin#",
			Timeout: 30 * time.Second,
		},
		{
			Name:    "open-config-menu",
			Send:    "application configure ise",
			Expect:  "Selection configuration option",
			Timeout: 30 * time.Second,
		},
		{
			Name:    "select-report-option",
			Send:    "16",
			Expect:  "Starting to generate All Endpoints report",
			Timeout: 30 * time.Second,
		},
		{
			Name:    "report-completion",
			Expect:  "Completed generating All Endpoints report",
			Timeout: 30 * time.Minute,
		},
		{
			Name:    "exit-menu",
			Send:    "0",
			Expect:  "ise-ppan-cx/admin#",
			Timeout: 30 * time.Second,
		},
		{
			Name:    "copy-to-repository",
			Send:    "copy disk:/{file} repository {repository}",
			Expect:  "ise-ppan-cx/admin#",
			Timeout: 2 * time.Minute,
		},
	}
}

// replaceEnvVars expands ${VAR} placeholders in the credential fields, so
// secrets can stay out of the config file.
func replaceEnvVars(config Config) Config {
	config.Appliance.Password = expandEnv(config.Appliance.Password)
	config.Storage.Minio.AccessKey = expandEnv(config.Storage.Minio.AccessKey)
	config.Storage.Minio.SecretKey = expandEnv(config.Storage.Minio.SecretKey)
	return config
}

func expandEnv(value string) string {
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		envVar := strings.TrimSuffix(strings.TrimPrefix(value, "${"), "}")
		if v := os.Getenv(envVar); v != "" {
			return v
		}
		return ""
	}
	return value
}

func setDefaults() {
	viper.SetDefault("appliance.port", 22)
	viper.SetDefault("appliance.connect_timeout", 10*time.Second)

	viper.SetDefault("script.poll_interval", 100*time.Millisecond)

	viper.SetDefault("transfer.repository", "NFS")
	viper.SetDefault("transfer.file_prefix", "FullReport_")
	// Matches the appliance's own naming, e.g. 17-Aug-2026.
	viper.SetDefault("transfer.date_layout", "02-Jan-2006")
	viper.SetDefault("transfer.extension", ".csv")

	viper.SetDefault("storage.prefix", "nac-reports/")
	viper.SetDefault("storage.minio.port", 9000)
	viper.SetDefault("storage.minio.secure", false)

	viper.SetDefault("database.sqlite.max_idle_conns", 1)
	viper.SetDefault("database.sqlite.max_open_conns", 1)
	viper.SetDefault("database.sqlite.conn_max_lifetime", time.Hour)

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
	viper.SetDefault("log.output", "both")
	viper.SetDefault("log.file_path", "./logs/nac_export.log")
	viper.SetDefault("log.max_size", 50)
	viper.SetDefault("log.max_backups", 5)
	viper.SetDefault("log.max_age", 30)
	viper.SetDefault("log.compress", true)
}
