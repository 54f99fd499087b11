package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// AppDirName is the folder created under the OS config directory.
const AppDirName = "BetreuungXMLTool"

type Config struct {
	SettingsDir string
	Password    string
	LogLevel    string
	Port        string
	StaticDir   string
}

func Load() Config {
	// Load .env file if present
	_ = godotenv.Load()

	return Config{
		SettingsDir: getEnv("BETREUUNG_SETTINGS_DIR", defaultSettingsDir()),
		Password:    getEnv("BETREUUNG_PASSWORD", ""),
		LogLevel:    getEnv("BETREUUNG_LOG_LEVEL", "info"),
		Port:        getEnv("PORT", "8080"),
		StaticDir:   getEnv("BETREUUNG_STATIC_DIR", ""),
	}
}

// defaultSettingsDir resolves %APPDATA%, ~/Library/Application Support or
// ~/.config depending on the OS; the working directory is the last resort.
func defaultSettingsDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, AppDirName)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "."+AppDirName)
	}
	return AppDirName
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
