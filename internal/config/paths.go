package config

import "path/filepath"

const (
	// Layout under CHATBRIDGE_HOME.
	ConfigFilePath  = "config.toml"
	DataDirPath     = "data"
	LogsDirPath     = "logs"
	SessionsDirPath = "sessions"
	UsageFileName   = "usage.jsonl"
	HistoryFileName = "repl_history"
)

func homeConfigPath(home string) string {
	return filepath.Join(home, ConfigFilePath)
}

func defaultHomePath(home string) string {
	return filepath.Join(home, ".chatbridge")
}

func (c *Config) ConfigPath() string {
	return homeConfigPath(c.HomeDir)
}

func (c *Config) DataDir() string {
	return filepath.Join(c.HomeDir, DataDirPath)
}

func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir(), LogsDirPath)
}

func (c *Config) UsagePath() string {
	return filepath.Join(c.LogsDir(), UsageFileName)
}

func (c *Config) HistoryPath() string {
	return filepath.Join(c.DataDir(), HistoryFileName)
}

func (c *Config) SessionsDir() string {
	return filepath.Join(c.DataDir(), SessionsDirPath)
}
