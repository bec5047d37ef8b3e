package cfg

import (
	"cmp"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Database configuration
	DBHost     string `long:"db-host" env:"DB_HOST" default:"localhost" description:"Database host"`
	DBPort     string `long:"db-port" env:"DB_PORT" default:"5432" description:"Database port"`
	DBUser     string `long:"db-user" env:"DB_USER" default:"promo_user" description:"Database user"`
	DBPassword string `long:"db-password" env:"DB_PASSWORD" default:"promo_password" description:"Database password (required)" required:"true"`
	DBName     string `long:"db-name" env:"DB_NAME" default:"ofertas" description:"Database name"`

	// Redis (dedup gate)
	RedisAddr string `long:"redis-addr" env:"REDIS_ADDR" default:"localhost:6379" description:"Redis address for the deduplication gate"`
	DedupTTL  int    `long:"dedup-ttl" env:"DEDUP_TTL" default:"3600" description:"Deduplication cooldown in seconds"`

	// Telegram
	BotToken      string `long:"bot-token" env:"BOT_TOKEN" description:"Telegram bot token (required)" required:"true"`
	DestinationID int64  `long:"destination-id" env:"DESTINATION_ID" description:"Default destination chat ID"`
	SendToGeneral bool   `long:"send-to-general" env:"SEND_TO_GENERAL" description:"Also publish to the general feed when a category thread matches"`
	FooterURL     string `long:"footer-url" env:"FOOTER_URL" default:"https://t.me/ofertassertao" description:"Link appended as the caption footer"`

	// Affiliate platforms
	ShopeeAppID         string `long:"shopee-app-id" env:"SHOPEE_APP_ID" description:"Shopee affiliate API app ID"`
	ShopeeAppSecret     string `long:"shopee-app-secret" env:"SHOPEE_APP_SECRET" description:"Shopee affiliate API secret"`
	MeliTag             string `long:"meli-tag" env:"MELI_TAG" description:"Mercado Livre affiliate tag"`
	AliExpressAppKey    string `long:"aliexpress-app-key" env:"ALIEXPRESS_APP_KEY" description:"AliExpress open platform app key"`
	AliExpressAppSecret string `long:"aliexpress-app-secret" env:"ALIEXPRESS_APP_SECRET" description:"AliExpress open platform secret"`
	AmazonTag           string `long:"amazon-tag" env:"AMAZON_TAG" description:"Amazon associate tag"`

	// Classifier
	AIEndpoint       string `long:"ai-endpoint" env:"AI_ENDPOINT" default:"https://api.openai.com/v1/chat/completions" description:"OpenAI-compatible chat completions endpoint"`
	AIModel          string `long:"ai-model" env:"AI_MODEL" default:"gpt-4o-mini" description:"Model used for promotion classification"`
	AIKey            string `long:"ai-key" env:"AI_KEY" description:"API key for the classification service"`
	KeywordsFile     string `long:"keywords-file" env:"KEYWORDS_FILE" default:"./keywords.yml" description:"YAML file with category keyword table"`
	ReviewConfidence int    `long:"review-confidence" env:"REVIEW_CONFIDENCE" default:"60" description:"Classifications below this confidence go to manual review"`

	// Rate limiting and delivery
	RateLimitMax     int `long:"rate-limit-max" env:"RATE_LIMIT_MAX" default:"5" description:"Maximum sends per rate limit window"`
	RateLimitWindow  int `long:"rate-limit-window" env:"RATE_LIMIT_WINDOW" default:"60" description:"Rate limit window in seconds"`
	MaxRetryAttempts int `long:"max-retry-attempts" env:"MAX_RETRY_ATTEMPTS" default:"3" description:"Maximum delivery attempts per destination"`
	SendDelay        int `long:"send-delay" env:"SEND_DELAY" default:"10" description:"Delay between successful sends in seconds"`
	RateLimitPause   int `long:"rate-limit-pause" env:"RATE_LIMIT_PAUSE" default:"65" description:"Cooldown in seconds after the destination signals throttling"`

	// Source monitoring
	SourcesFile       string `long:"sources-file" env:"SOURCES_FILE" default:"./sources.yml" description:"YAML file listing monitored sources"`
	PollInterval      int    `long:"poll-interval" env:"POLL_INTERVAL" default:"10" description:"Polling sweep interval in seconds"`
	HeartbeatInterval int    `long:"heartbeat-interval" env:"HEARTBEAT_INTERVAL" default:"120" description:"Source connection heartbeat interval in seconds"`
	ReconnectBase     int    `long:"reconnect-base" env:"RECONNECT_BASE" default:"5" description:"Base reconnect backoff in seconds"`
	MaxReconnects     int    `long:"max-reconnects" env:"MAX_RECONNECTS" default:"10" description:"Reconnect attempts before the connection is marked failed"`

	// HTTP API
	Port         string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36" description:"User agent string for outbound HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"America/Sao_Paulo" description:"Timezone for timestamps"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBHost:              raw.DBHost,
		DBPort:              raw.DBPort,
		DBUser:              raw.DBUser,
		DBPassword:          raw.DBPassword,
		DBName:              raw.DBName,
		RedisAddr:           raw.RedisAddr,
		DedupTTL:            raw.DedupTTL,
		BotToken:            raw.BotToken,
		DestinationID:       raw.DestinationID,
		SendToGeneral:       raw.SendToGeneral,
		FooterURL:           raw.FooterURL,
		ShopeeAppID:         raw.ShopeeAppID,
		ShopeeAppSecret:     raw.ShopeeAppSecret,
		MeliTag:             raw.MeliTag,
		AliExpressAppKey:    raw.AliExpressAppKey,
		AliExpressAppSecret: raw.AliExpressAppSecret,
		AmazonTag:           raw.AmazonTag,
		AIEndpoint:          raw.AIEndpoint,
		AIModel:             raw.AIModel,
		AIKey:               raw.AIKey,
		KeywordsFile:        raw.KeywordsFile,
		ReviewConfidence:    raw.ReviewConfidence,
		RateLimitMax:        raw.RateLimitMax,
		RateLimitWindow:     raw.RateLimitWindow,
		MaxRetryAttempts:    raw.MaxRetryAttempts,
		SendDelay:           raw.SendDelay,
		RateLimitPause:      raw.RateLimitPause,
		SourcesFile:         raw.SourcesFile,
		PollInterval:        raw.PollInterval,
		HeartbeatInterval:   raw.HeartbeatInterval,
		ReconnectBase:       raw.ReconnectBase,
		MaxReconnects:       raw.MaxReconnects,
		Port:                raw.Port,
		APIAccessKey:        raw.APIAccessKey,
		UserAgent:           raw.UserAgent,
		Timezone:            raw.Timezone,
		Debug:               raw.Debug,
		Version:             GetVersion(),
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

// Set replaces the global configuration. Intended for tests.
func Set(c *Cfg) {
	globalCfg = c
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
			fmt.Printf("Timezone configured: %s\n", timezone)
		}
	}
	return nil
}
