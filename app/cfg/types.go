package cfg

type Cfg struct {
	// Database configuration
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis (dedup gate)
	RedisAddr string
	DedupTTL  int // seconds

	// Telegram
	BotToken      string
	DestinationID int64
	SendToGeneral bool
	FooterURL     string

	// Affiliate platforms
	ShopeeAppID         string
	ShopeeAppSecret     string
	MeliTag             string
	AliExpressAppKey    string
	AliExpressAppSecret string
	AmazonTag           string

	// Classifier
	AIEndpoint       string
	AIModel          string
	AIKey            string
	KeywordsFile     string
	ReviewConfidence int

	// Rate limiting and delivery
	RateLimitMax     int
	RateLimitWindow  int // seconds
	MaxRetryAttempts int
	SendDelay        int // seconds between successful sends
	RateLimitPause   int // seconds to back off after a 429

	// Source monitoring
	SourcesFile       string
	PollInterval      int // seconds
	HeartbeatInterval int // seconds
	ReconnectBase     int // seconds
	MaxReconnects     int

	// HTTP API
	Port         string
	APIAccessKey string

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
