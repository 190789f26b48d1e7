// Package log implements structured logging using slog, with a rotating
// file appender backed by lumberjack.
package log

// Config controls the daemon's structured logger.
type Config struct {
	Level      string `yaml:"level" mapstructure:"level"`   // debug / info / warn / error
	Format     string `yaml:"format" mapstructure:"format"` // json / text
	Stderr     bool   `yaml:"stderr" mapstructure:"stderr"`
	File       string `yaml:"file" mapstructure:"file"` // empty disables file rotation
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	Compress   bool   `yaml:"compress" mapstructure:"compress"`
}
