package core

import (
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Session storage backends
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type (
	Config struct {
		Debug        bool
		TestMode     bool
		Env          string
		Build        string
		AppName      string
		RollbarToken string

		API      apiConfig
		Session  sessionConfig
		Redis    redisConfig
		Database databaseConfig
		Guard    guardConfig
		Filter   filterConfig
		Server   serverConfig
	}

	apiConfig struct {
		BaseURL string
		Timeout time.Duration
	}

	sessionConfig struct {
		StorageKey string
		Backend    string
		FileDir    string
	}

	redisConfig struct {
		Addr     string
		Password string
		DB       int
		TTL      time.Duration
	}

	databaseConfig struct {
		Engine        string
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	guardConfig struct {
		AdminImpliesAll bool
		PoliciesFile    string
	}

	filterConfig struct {
		CacheSize int
		CacheTTL  time.Duration
	}

	serverConfig struct {
		Host                      string
		Address                   string
		SecretKey                 string
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		ShutdownTimeout           time.Duration
		CatalogFile               string
	}
)

func (dbConf databaseConfig) Address() string {
	return net.JoinHostPort(dbConf.Host, dbConf.Port)
}

// NewConfig loads the configuration from the environment.
// ENV selects the environment (DEV by default, TEST, QA, PROD) and the prefix of every variable,
// e.g. DEV_API_BASEURL. A config/.env.<env> file is loaded first when it exists.
func NewConfig() *Config {
	conf := viper.New()

	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}
	conf.SetEnvPrefix(env)
	conf.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	conf.SetTypeByDefaultValue(true)

	setDefaults(conf, env)

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(Getwd(), "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	conf.AutomaticEnv()

	return &Config{
		Debug:        conf.GetBool("debug"),
		TestMode:     conf.GetBool("testMode"),
		Env:          env,
		Build:        conf.GetString("build"),
		AppName:      conf.GetString("appName"),
		RollbarToken: conf.GetString("rollbarToken"),
		API: apiConfig{
			BaseURL: strings.TrimRight(conf.GetString("api.baseURL"), "/"),
			Timeout: conf.GetDuration("api.timeout"),
		},
		Session: sessionConfig{
			StorageKey: conf.GetString("session.storageKey"),
			Backend:    strings.ToLower(conf.GetString("session.backend")),
			FileDir:    conf.GetString("session.fileDir"),
		},
		Redis: redisConfig{
			Addr:     conf.GetString("redis.addr"),
			Password: conf.GetString("redis.password"),
			DB:       conf.GetInt("redis.db"),
			TTL:      conf.GetDuration("redis.ttl"),
		},
		Database: databaseConfig{
			Engine:        conf.GetString("database.engine"),
			Host:          conf.GetString("database.host"),
			Port:          conf.GetString("database.port"),
			Name:          conf.GetString("database.name"),
			User:          conf.GetString("database.user"),
			Password:      conf.GetString("database.password"),
			AdminUser:     conf.GetString("database.adminUser"),
			AdminPassword: conf.GetString("database.adminPassword"),
			DisableTLS:    conf.GetBool("database.disableTLS"),
		},
		Guard: guardConfig{
			AdminImpliesAll: conf.GetBool("guard.adminImpliesAll"),
			PoliciesFile:    conf.GetString("guard.policiesFile"),
		},
		Filter: filterConfig{
			CacheSize: conf.GetInt("filter.cacheSize"),
			CacheTTL:  conf.GetDuration("filter.cacheTTL"),
		},
		Server: serverConfig{
			Host:                      conf.GetString("server.host"),
			Address:                   conf.GetString("server.address"),
			SecretKey:                 conf.GetString("server.secretKey"),
			JWTExpirationDelta:        conf.GetDuration("server.jwtExpirationDelta"),
			JWTRefreshExpirationDelta: conf.GetDuration("server.jwtRefreshExpirationDelta"),
			ShutdownTimeout:           conf.GetDuration("server.shutdownTimeout"),
			CatalogFile:               conf.GetString("server.catalogFile"),
		},
	}
}

func setDefaults(conf *viper.Viper, env string) {
	conf.SetDefault("debug", env == "DEV")
	conf.SetDefault("testMode", env == "TEST")
	conf.SetDefault("build", "develop")
	conf.SetDefault("appName", "Masomo")

	conf.SetDefault("api.baseURL", "http://localhost:8000/v1")
	conf.SetDefault("api.timeout", 30*time.Second)

	conf.SetDefault("session.storageKey", "masomo.session")
	conf.SetDefault("session.backend", BackendFile)
	conf.SetDefault("session.fileDir", defaultSessionDir())

	conf.SetDefault("redis.addr", "localhost:6379")
	conf.SetDefault("redis.db", 0)
	conf.SetDefault("redis.ttl", 7*24*time.Hour)

	conf.SetDefault("database.engine", "postgres")
	conf.SetDefault("database.host", "localhost")
	conf.SetDefault("database.port", "5432")
	conf.SetDefault("database.name", "masomo_portal")
	conf.SetDefault("database.disableTLS", true)

	conf.SetDefault("guard.adminImpliesAll", false)

	conf.SetDefault("filter.cacheSize", 128)
	conf.SetDefault("filter.cacheTTL", 5*time.Minute)

	conf.SetDefault("server.host", "localhost")
	conf.SetDefault("server.address", ":8000")
	conf.SetDefault("server.secretKey", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	conf.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)
	conf.SetDefault("server.jwtRefreshExpirationDelta", 4*time.Hour)
	conf.SetDefault("server.shutdownTimeout", 5*time.Second)
}

func defaultSessionDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".masomo"
	}
	return filepath.Join(dir, "masomo")
}

// String hides secrets; handy for startup logs.
func (c *Config) String() string {
	return fmt.Sprintf(
		"env=%s debug=%t build=%s api=%s session.backend=%s",
		c.Env, c.Debug, c.Build, c.API.BaseURL, c.Session.Backend,
	)
}
