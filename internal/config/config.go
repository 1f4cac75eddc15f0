package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"emsreport/internal/platform/pg"
)

// Config holds application configuration values.
type Config struct {
	Env string `validate:"required,oneof=dev prod"`
	DB  struct {
		Driver string `validate:"required,oneof=postgres sqlite"`
		// DSN applies to postgres and wins over the discrete fields
		// below; Path applies to sqlite.
		DSN      string
		Host     string
		Port     int
		User     string
		Password string
		Name     string
		SSLMode  string
		Path     string
	}
	HTTP struct {
		Addr string `validate:"required"`
	}
	EMS struct {
		BaseURL    string `validate:"required,url"`
		LoginURL   string `validate:"required,url"`
		Username   string `validate:"required"`
		Password   string `validate:"required"`
		RatePerSec float64
	}
	Report struct {
		Domain  string `validate:"required"`
		Period  string `validate:"required"`
		GroupBy string `validate:"required"`
		Type    string `validate:"required"`
	}
	Log struct {
		ConsoleLevel string `validate:"required,oneof=debug info warn error"`
		FileLevel    string `validate:"required,oneof=debug info warn error"`
		File         string
	}
}

var validate = validator.New()

// Load reads configuration from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	var c Config
	c.Env = getenv("ENV", "prod")
	c.DB.Driver = strings.ToLower(getenv("DB_DRIVER", "postgres"))
	c.DB.DSN = os.Getenv("DB_DSN")
	c.DB.Host = getenv("DB_HOST", "localhost")
	c.DB.Port = getint("DB_PORT", 5432)
	c.DB.User = os.Getenv("DB_USER")
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = os.Getenv("DB_NAME")
	c.DB.SSLMode = getenv("DB_SSLMODE", "disable")
	c.DB.Path = getenv("DB_PATH", "data/emsreport.db")
	c.HTTP.Addr = getenv("HTTP_ADDR", ":8080")
	c.EMS.BaseURL = os.Getenv("EMS_BASE_URL")
	c.EMS.LoginURL = os.Getenv("EMS_LOGIN_URL")
	c.EMS.Username = os.Getenv("EMS_USERNAME")
	c.EMS.Password = os.Getenv("EMS_PASSWORD")
	c.EMS.RatePerSec = getfloat("EMS_RATE_PER_SEC", 5)
	c.Report.Domain = os.Getenv("REPORT_DOMAIN")
	c.Report.Period = getenv("REPORT_PERIOD", "DAILY")
	c.Report.GroupBy = getenv("REPORT_GROUP_BY", "meter")
	c.Report.Type = getenv("REPORT_TYPE", "LVPMeter")
	c.Log.ConsoleLevel = strings.ToLower(getenv("LOG_CONSOLE_LEVEL", "info"))
	c.Log.FileLevel = strings.ToLower(getenv("LOG_FILE_LEVEL", "debug"))
	c.Log.File = getenv("LOG_FILE", "data/logs/emsreport.log")

	if err := validate.Struct(c); err != nil {
		return Config{}, err
	}
	if c.DB.Driver == "postgres" && c.DB.DSN == "" && c.DB.Name == "" {
		return Config{}, errors.New("DB_DSN or DB_NAME required when DB_DRIVER is postgres")
	}
	return c, nil
}

// PostgresDSN returns the explicit DSN when set, otherwise one built from
// the discrete connection fields.
func (c Config) PostgresDSN() string {
	if c.DB.DSN != "" {
		return c.DB.DSN
	}
	return pg.BuildDSN(pg.DSNConfig{
		Host:            c.DB.Host,
		Port:            c.DB.Port,
		User:            c.DB.User,
		Password:        c.DB.Password,
		Database:        c.DB.Name,
		SSLMode:         c.DB.SSLMode,
		ApplicationName: "emsreport",
	})
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
