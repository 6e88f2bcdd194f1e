package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // fixtures are scheduled in a named zone

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var Conf *Config

type (
	Config struct {
		AppName         string
		Build           string
		Env             string // DEV (local; default), TEST, QA, PROD
		Debug           bool
		TestMode        bool
		SecretKey       string
		FrontendBaseURL string
		RollbarToken    string

		// TimeZone is the IANA name of the zone fixtures are displayed and scheduled in.
		TimeZone           string
		DefaultCountryCode string // e.g. "+44"; replaces a leading national "0" in phone numbers

		Server   ServerConfig
		Database DatabaseConfig
		Email    EmailConfig
		SMS      SMSConfig
		Notify   NotifyConfig
		Jobs     JobsConfig
		Feed     FeedConfig

		defaultFromEmail string
		location         *time.Location
	}

	ServerConfig struct {
		Host                      string
		Address                   string
		DebugAddress              string
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		PasswordResetTimeoutDelta time.Duration
		RateLimit                 float64 // requests per second per client IP on public subscription endpoints
		RateBurst                 int
		TrustProxy                bool // take the client IP from X-Forwarded-For / X-Real-IP
	}

	DatabaseConfig struct {
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

	EmailConfig struct {
		SendgridApiKey string
	}

	SMSConfig struct {
		TwilioAccountSID string
		TwilioAuthToken  string
		FromNumber       string
	}

	NotifyConfig struct {
		DailyTime     string        // HH:MM, local
		SoonLead      time.Duration // "starting soon" is sent this long before the first kickoff
		CheckInterval time.Duration
	}

	JobsConfig struct {
		PollInterval  time.Duration
		BatchSize     int
		Concurrency   int
		MaxAttempts   int
		RetryBackoff  time.Duration
		RetryMaxDelay time.Duration
		LockTTL       time.Duration
	}

	FeedConfig struct {
		URL          string
		Token        string
		SyncInterval time.Duration
	}
)

func (db DatabaseConfig) Address() string {
	return net.JoinHostPort(db.Host, db.Port)
}

func (conf *Config) DefaultFromEmail() mail.Address {
	return mail.Address{Name: conf.AppName, Address: conf.defaultFromEmail}
}

func (conf *Config) SetDefaultFromEmail(email string) {
	conf.defaultFromEmail = email
}

// Location returns the display time zone.
func (conf *Config) Location() *time.Location {
	if conf.location == nil {
		return time.UTC
	}
	return conf.location
}

// SetTimeZone changes the display time zone.
func (conf *Config) SetTimeZone(name string) error {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return err
	}
	conf.TimeZone = name
	conf.location = loc
	return nil
}

func init() {
	Conf = NewConfig()
}

// NewConfig reads the configuration from defaults, `config/.env.<env>` and the environment.
func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("appName", "Kickoff")
	v.SetDefault("build", "develop")
	v.SetDefault("secretKey", "k1ck-0ff$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("timeZone", "Europe/London")
	v.SetDefault("defaultCountryCode", "+44")
	v.SetDefault("defaultFromEmail", "noreply@localhost")

	v.SetDefault("serverHost", "localhost")
	v.SetDefault("serverAddress", ":8000")
	v.SetDefault("serverDebugAddress", ":4000")
	v.SetDefault("serverShutdownTimeout", 5*time.Second)
	v.SetDefault("jwtExpirationDelta", 15*time.Minute)
	v.SetDefault("jwtRefreshExpirationDelta", 7*24*time.Hour)
	v.SetDefault("passwordResetTimeoutDelta", 3*24*time.Hour)
	v.SetDefault("rateLimit", 0.5)
	v.SetDefault("rateBurst", 5)
	v.SetDefault("trustProxy", false)

	v.SetDefault("dbEngine", "postgres")
	v.SetDefault("dbHost", "localhost")
	v.SetDefault("dbPort", "5432")
	v.SetDefault("dbName", "kickoff")
	v.SetDefault("dbUser", "kickoff")
	v.SetDefault("dbPassword", "kickoff")
	v.SetDefault("dbAdminUser", "postgres")
	v.SetDefault("dbAdminPassword", "postgres")
	v.SetDefault("dbDisableTLS", true)

	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("twilioAccountSID", "")
	v.SetDefault("twilioAuthToken", "")
	v.SetDefault("smsFromNumber", "")

	v.SetDefault("notifyDailyTime", "08:00")
	v.SetDefault("notifySoonLead", time.Hour)
	v.SetDefault("notifyCheckInterval", 5*time.Minute)

	v.SetDefault("jobsPollInterval", 30*time.Second)
	v.SetDefault("jobsBatchSize", 50)
	v.SetDefault("jobsConcurrency", 4)
	v.SetDefault("jobsMaxAttempts", 5)
	v.SetDefault("jobsRetryBackoff", 30*time.Second)
	v.SetDefault("jobsRetryMaxDelay", 30*time.Minute)
	v.SetDefault("jobsLockTTL", 5*time.Minute)

	v.SetDefault("feedURL", "")
	v.SetDefault("feedToken", "")
	v.SetDefault("feedSyncInterval", 6*time.Hour)

	env := strings.ToUpper(os.Getenv("ENV"))
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("debug", false)
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	if root, err := projectRoot(); err == nil {
		dotEnvPath := filepath.Join(root, "config", ".env."+strings.ToLower(env))
		if _, err := os.Stat(dotEnvPath); err == nil {
			if err := godotenv.Load(dotEnvPath); err != nil {
				log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
			}
		} else if !os.IsNotExist(err) {
			log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
		}
	}
	v.AutomaticEnv()

	conf := &Config{
		AppName:            v.GetString("appName"),
		Build:              v.GetString("build"),
		Env:                env,
		Debug:              v.GetBool("debug"),
		TestMode:           v.GetBool("testMode"),
		SecretKey:          v.GetString("secretKey"),
		FrontendBaseURL:    strings.TrimRight(v.GetString("frontendBaseURL"), "/"),
		RollbarToken:       v.GetString("rollbarToken"),
		TimeZone:           v.GetString("timeZone"),
		DefaultCountryCode: v.GetString("defaultCountryCode"),
		Server: ServerConfig{
			Host:                      v.GetString("serverHost"),
			Address:                   v.GetString("serverAddress"),
			DebugAddress:              v.GetString("serverDebugAddress"),
			ShutdownTimeout:           v.GetDuration("serverShutdownTimeout"),
			JWTExpirationDelta:        v.GetDuration("jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("jwtRefreshExpirationDelta"),
			PasswordResetTimeoutDelta: v.GetDuration("passwordResetTimeoutDelta"),
			RateLimit:                 v.GetFloat64("rateLimit"),
			RateBurst:                 v.GetInt("rateBurst"),
			TrustProxy:                v.GetBool("trustProxy"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("dbEngine"),
			Host:          v.GetString("dbHost"),
			Port:          v.GetString("dbPort"),
			Name:          v.GetString("dbName"),
			User:          v.GetString("dbUser"),
			Password:      v.GetString("dbPassword"),
			AdminUser:     v.GetString("dbAdminUser"),
			AdminPassword: v.GetString("dbAdminPassword"),
			DisableTLS:    v.GetBool("dbDisableTLS"),
		},
		Email: EmailConfig{
			SendgridApiKey: v.GetString("sendgridApiKey"),
		},
		SMS: SMSConfig{
			TwilioAccountSID: v.GetString("twilioAccountSID"),
			TwilioAuthToken:  v.GetString("twilioAuthToken"),
			FromNumber:       v.GetString("smsFromNumber"),
		},
		Notify: NotifyConfig{
			DailyTime:     v.GetString("notifyDailyTime"),
			SoonLead:      v.GetDuration("notifySoonLead"),
			CheckInterval: v.GetDuration("notifyCheckInterval"),
		},
		Jobs: JobsConfig{
			PollInterval:  v.GetDuration("jobsPollInterval"),
			BatchSize:     v.GetInt("jobsBatchSize"),
			Concurrency:   v.GetInt("jobsConcurrency"),
			MaxAttempts:   v.GetInt("jobsMaxAttempts"),
			RetryBackoff:  v.GetDuration("jobsRetryBackoff"),
			RetryMaxDelay: v.GetDuration("jobsRetryMaxDelay"),
			LockTTL:       v.GetDuration("jobsLockTTL"),
		},
		Feed: FeedConfig{
			URL:          v.GetString("feedURL"),
			Token:        v.GetString("feedToken"),
			SyncInterval: v.GetDuration("feedSyncInterval"),
		},
		defaultFromEmail: v.GetString("defaultFromEmail"),
	}
	if err := conf.SetTimeZone(conf.TimeZone); err != nil {
		log.Printf("config: unknown time zone %q, using UTC", conf.TimeZone)
		conf.location = time.UTC
	}
	return conf
}

// projectRoot walks up from the working directory until it finds go.mod.
// go test runs in the package directory, so the root is not always the working directory.
func projectRoot() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	currDir := wd
	for {
		if _, err := os.Stat(filepath.Join(currDir, "go.mod")); err == nil {
			return currDir, nil
		}
		newDir := filepath.Dir(currDir)
		if newDir == currDir {
			return "", os.ErrNotExist
		}
		currDir = newDir
	}
}
