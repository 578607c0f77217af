package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"sentinel/internal/models"
	"sentinel/pkg/crypto"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Security  SecurityConfig
	Market    MarketConfig
	Scheduler SchedulerConfig
	Crash     CrashConfig
	Risk      RiskConfig
	Venue     VenueConfig
	Logging   LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port     int
	Host     string
	UseHTTPS bool
	CertFile string
	KeyFile  string
}

// DatabaseConfig - настройки подключения к БД (warm/cold хранилище и журнал сделок)
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	APIToken      string // токен доступа к API (хэшируется bcrypt при старте); пустой = аутентификация выключена
	EncryptionKey string // AES-256 ключ для расшифровки ключей площадки из *_ENC переменных
}

// MarketConfig - настройки хранилища рыночных данных
type MarketConfig struct {
	Symbols           []string      // отслеживаемые символы
	Timeframes        []string      // собираемые таймфреймы
	HotCapacity       int           // ёмкость горячего буфера, свечей на (symbol, timeframe)
	WarmRetentionDays int           // горизонт warm-хранения до даунсэмплинга
	SnapshotHistory   int           // глубина кольца снимков индикаторов
	ReducerInterval   time.Duration // период фонового даунсэмплинга warm→cold
	FetchLimit        int           // сколько свечей запрашивать у площадки за тик
}

// SchedulerConfig - настройки двухрежимного планировщика
type SchedulerConfig struct {
	MonitorInterval   time.Duration // интервал тиков непрерывного монитора
	CycleInterval     time.Duration // интервал внешнего (надзорного) цикла
	FallbackThreshold time.Duration // допустимое отставание lastCheck до перехода в резерв
}

// CrashConfig - настройки детектора обвалов
type CrashConfig struct {
	Thresholds     map[string]float64 // таймфрейм → порог падения, % (положительное число)
	AccelPeriods   int                // минимум периодов для проверки ускорения (>= 3)
	AccelThreshold float64            // суммарный порог ускоренного падения, %
	StalenessBound time.Duration      // максимальный возраст последней свечи
	MinValidVolume float64            // минимальный валидный объём свечи
	EventHistory   int                // глубина кольца недавних событий для API
}

// TakeProfitLevel - пара (смещение %, доля закрытия) из конфигурации
type TakeProfitLevel struct {
	OffsetPercent float64
	CloseFraction float64
}

// RiskConfig - настройки риск-менеджера и трейлинг-стопа
type RiskConfig struct {
	StopLossPercent   float64   // стартовый стоп от цены входа, %
	ActivationPercent float64   // прибыль для перевода в безубыток, %
	Milestones        []float64 // рубежи прибыли фазы LOCKING, % (по возрастанию)
	LockFraction      float64   // доля рубежа, фиксируемая стопом (0-1)
	TrailDistance     float64   // дистанция трейлинга за лучшей ценой, %

	TakeProfits      []TakeProfitLevel // многоуровневый тейк-профит (до 3 уровней)
	SingleTakeProfit float64           // одноуровневый TP, % (0 = выключен)

	MaxDailyLoss         float64 // потолок дневного убытка, USDT
	MaxConsecutiveLosses int     // потолок серии убыточных сделок
	MaxPositionRisk      float64 // потолок риска позиции, доля equity (0-1)
	Leverage             int     // плечо по умолчанию для новых позиций
	PositionSize         float64 // объём новой позиции в базовой валюте
}

// VenueConfig - настройки вызовов внешней площадки исполнения
type VenueConfig struct {
	APIKey    string // ключ доступа к площадке исполнения
	APISecret string // секрет для подписи запросов

	CallTimeout      time.Duration // таймаут сетевого вызова площадки
	LocalReadTimeout time.Duration // таймаут локальных чтений (БД, кэш)
	MaxRetries       int           // бюджет retry для временных ошибок
	RetryBackoff     time.Duration // стартовая задержка экспоненциального backoff
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnvAsInt("SERVER_PORT", 8080),
			Host:     getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS: getEnvAsBool("USE_HTTPS", false),
			CertFile: getEnv("CERT_FILE", ""),
			KeyFile:  getEnv("KEY_FILE", ""),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "sentinel"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Security: SecurityConfig{
			APIToken:      getEnv("API_TOKEN", ""),
			EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
		},
		Market: MarketConfig{
			Symbols:           getEnvAsSlice("SYMBOLS", []string{"BTCUSDT"}),
			Timeframes:        getEnvAsSlice("TIMEFRAMES", []string{models.Timeframe15m, models.Timeframe1h}),
			HotCapacity:       getEnvAsInt("HOT_CAPACITY", 200),
			WarmRetentionDays: getEnvAsInt("WARM_RETENTION_DAYS", 30),
			SnapshotHistory:   getEnvAsInt("SNAPSHOT_HISTORY", 100),
			ReducerInterval:   getEnvAsDuration("REDUCER_INTERVAL", 1*time.Hour),
			FetchLimit:        getEnvAsInt("FETCH_LIMIT", 2),
		},
		Scheduler: SchedulerConfig{
			MonitorInterval:   getEnvAsDuration("MONITOR_INTERVAL", 60*time.Second),
			CycleInterval:     getEnvAsDuration("CYCLE_INTERVAL", 15*time.Minute),
			FallbackThreshold: getEnvAsDuration("FALLBACK_THRESHOLD", 180*time.Second),
		},
		Crash: CrashConfig{
			Thresholds: map[string]float64{
				models.Timeframe15m: getEnvAsFloat("CRASH_THRESHOLD_15M", 1.5),
				models.Timeframe1h:  getEnvAsFloat("CRASH_THRESHOLD_1H", 2.5),
				models.Timeframe4h:  getEnvAsFloat("CRASH_THRESHOLD_4H", 3.5),
				models.Timeframe1d:  getEnvAsFloat("CRASH_THRESHOLD_24H", 5.0),
			},
			AccelPeriods:   getEnvAsInt("CRASH_ACCEL_PERIODS", 3),
			AccelThreshold: getEnvAsFloat("CRASH_ACCEL_THRESHOLD", 1.5),
			StalenessBound: getEnvAsDuration("STALENESS_BOUND", 300*time.Second),
			MinValidVolume: getEnvAsFloat("MIN_VALID_VOLUME", 0.1),
			EventHistory:   getEnvAsInt("CRASH_EVENT_HISTORY", 50),
		},
		Risk: RiskConfig{
			StopLossPercent:   getEnvAsFloat("STOP_LOSS_PERCENT", 2.0),
			ActivationPercent: getEnvAsFloat("BREAKEVEN_ACTIVATION_PERCENT", 1.5),
			Milestones:        getEnvAsFloats("PROFIT_MILESTONES", []float64{3.0, 5.0, 8.0}),
			LockFraction:      getEnvAsFloat("MILESTONE_LOCK_FRACTION", 0.5),
			TrailDistance:     getEnvAsFloat("TRAIL_DISTANCE_PERCENT", 1.5),

			TakeProfits:      parseTakeProfits(getEnv("TAKE_PROFIT_LEVELS", "")),
			SingleTakeProfit: getEnvAsFloat("TAKE_PROFIT_PERCENT", 0),

			MaxDailyLoss:         getEnvAsFloat("MAX_DAILY_LOSS", 100),
			MaxConsecutiveLosses: getEnvAsInt("MAX_CONSECUTIVE_LOSSES", 3),
			MaxPositionRisk:      getEnvAsFloat("MAX_POSITION_RISK", 0.05),
			Leverage:             getEnvAsInt("LEVERAGE", 10),
			PositionSize:         getEnvAsFloat("POSITION_SIZE", 0.01),
		},
		Venue: VenueConfig{
			APIKey:    getEnv("VENUE_API_KEY", ""),
			APISecret: getEnv("VENUE_API_SECRET", ""),

			CallTimeout:      getEnvAsDuration("VENUE_CALL_TIMEOUT", 25*time.Second),
			LocalReadTimeout: getEnvAsDuration("LOCAL_READ_TIMEOUT", 5*time.Second),
			MaxRetries:       getEnvAsInt("VENUE_MAX_RETRIES", 4),
			RetryBackoff:     getEnvAsDuration("VENUE_RETRY_BACKOFF", 500*time.Millisecond),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}
	if err := cfg.resolveVenueCredentials(); err != nil {
		return nil, err
	}
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	// ENCRYPTION_KEY обязателен, только если ключи площадки переданы в зашифрованном виде
	if hasEncryptedVenueCredentials() {
		if c.Security.EncryptionKey == "" {
			return fmt.Errorf("ENCRYPTION_KEY is required to decrypt VENUE_API_KEY_ENC/VENUE_API_SECRET_ENC")
		}
		if err := crypto.ValidateKey([]byte(c.Security.EncryptionKey)); err != nil {
			return fmt.Errorf("ENCRYPTION_KEY: %w", err)
		}
	}

	// Пустой токен разрешён: аутентификация выключается для локального запуска
	if c.Security.APIToken != "" && len(c.Security.APIToken) < 16 {
		return fmt.Errorf("API_TOKEN must be at least 16 characters")
	}

	return nil
}

func hasEncryptedVenueCredentials() bool {
	return getEnv("VENUE_API_KEY_ENC", "") != "" || getEnv("VENUE_API_SECRET_ENC", "") != ""
}

// resolveVenueCredentials расшифровывает ключи площадки из *_ENC переменных.
// Открытые VENUE_API_KEY / VENUE_API_SECRET имеют приоритет над зашифрованными.
func (c *Config) resolveVenueCredentials() error {
	key := []byte(c.Security.EncryptionKey)

	if enc := getEnv("VENUE_API_KEY_ENC", ""); enc != "" && c.Venue.APIKey == "" {
		plain, err := crypto.Decrypt(enc, key)
		if err != nil {
			return fmt.Errorf("decrypt VENUE_API_KEY_ENC: %w", err)
		}
		c.Venue.APIKey = plain
	}
	if enc := getEnv("VENUE_API_SECRET_ENC", ""); enc != "" && c.Venue.APISecret == "" {
		plain, err := crypto.Decrypt(enc, key)
		if err != nil {
			return fmt.Errorf("decrypt VENUE_API_SECRET_ENC: %w", err)
		}
		c.Venue.APISecret = plain
	}
	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if len(c.Market.Symbols) == 0 {
		return fmt.Errorf("SYMBOLS must list at least one symbol")
	}
	for _, tf := range c.Market.Timeframes {
		if _, ok := models.TimeframeMinutes[tf]; !ok {
			return fmt.Errorf("TIMEFRAMES contains unknown timeframe %q", tf)
		}
	}
	if c.Market.HotCapacity < 10 {
		return fmt.Errorf("HOT_CAPACITY must be at least 10, got %d", c.Market.HotCapacity)
	}
	if c.Market.WarmRetentionDays < 1 {
		return fmt.Errorf("WARM_RETENTION_DAYS must be positive, got %d", c.Market.WarmRetentionDays)
	}

	if c.Scheduler.MonitorInterval <= 0 {
		return fmt.Errorf("MONITOR_INTERVAL must be positive, got %v", c.Scheduler.MonitorInterval)
	}
	if c.Scheduler.FallbackThreshold <= c.Scheduler.MonitorInterval {
		return fmt.Errorf("FALLBACK_THRESHOLD (%v) must exceed MONITOR_INTERVAL (%v)",
			c.Scheduler.FallbackThreshold, c.Scheduler.MonitorInterval)
	}
	if c.Scheduler.CycleInterval <= c.Scheduler.FallbackThreshold {
		return fmt.Errorf("CYCLE_INTERVAL (%v) must exceed FALLBACK_THRESHOLD (%v)",
			c.Scheduler.CycleInterval, c.Scheduler.FallbackThreshold)
	}

	if c.Crash.AccelPeriods < 3 {
		return fmt.Errorf("CRASH_ACCEL_PERIODS must be at least 3, got %d", c.Crash.AccelPeriods)
	}
	for tf, th := range c.Crash.Thresholds {
		if th <= 0 {
			return fmt.Errorf("crash threshold for %s must be positive, got %v", tf, th)
		}
	}

	if err := c.validateRisk(); err != nil {
		return err
	}

	if c.Venue.MaxRetries < 0 {
		return fmt.Errorf("VENUE_MAX_RETRIES cannot be negative, got %d", c.Venue.MaxRetries)
	}
	if c.Venue.MaxRetries > 10 {
		return fmt.Errorf("VENUE_MAX_RETRIES should not exceed 10, got %d", c.Venue.MaxRetries)
	}
	if c.Venue.CallTimeout <= 0 {
		return fmt.Errorf("VENUE_CALL_TIMEOUT must be positive, got %v", c.Venue.CallTimeout)
	}

	return nil
}

// validateRisk проверяет параметры риск-менеджера
func (c *Config) validateRisk() error {
	r := c.Risk

	if r.StopLossPercent <= 0 || r.StopLossPercent >= 100 {
		return fmt.Errorf("STOP_LOSS_PERCENT must be in (0, 100), got %v", r.StopLossPercent)
	}
	if r.ActivationPercent <= 0 {
		return fmt.Errorf("BREAKEVEN_ACTIVATION_PERCENT must be positive, got %v", r.ActivationPercent)
	}
	if r.LockFraction <= 0 || r.LockFraction > 1 {
		return fmt.Errorf("MILESTONE_LOCK_FRACTION must be in (0, 1], got %v", r.LockFraction)
	}
	if r.TrailDistance <= 0 {
		return fmt.Errorf("TRAIL_DISTANCE_PERCENT must be positive, got %v", r.TrailDistance)
	}

	// Рубежи LOCKING обязаны строго возрастать и начинаться выше активации
	prev := r.ActivationPercent
	for i, m := range r.Milestones {
		if m <= prev {
			return fmt.Errorf("PROFIT_MILESTONES must be strictly ascending above activation, milestone %d (%v) <= %v", i, m, prev)
		}
		prev = m
	}

	if len(r.TakeProfits) > 3 {
		return fmt.Errorf("TAKE_PROFIT_LEVELS supports at most 3 levels, got %d", len(r.TakeProfits))
	}
	prevOffset := 0.0
	totalFraction := 0.0
	for i, tp := range r.TakeProfits {
		if tp.OffsetPercent <= prevOffset {
			return fmt.Errorf("TAKE_PROFIT_LEVELS offsets must be strictly ascending, level %d (%v) <= %v", i, tp.OffsetPercent, prevOffset)
		}
		if tp.CloseFraction <= 0 || tp.CloseFraction > 1 {
			return fmt.Errorf("TAKE_PROFIT_LEVELS fraction of level %d must be in (0, 1], got %v", i, tp.CloseFraction)
		}
		prevOffset = tp.OffsetPercent
		totalFraction += tp.CloseFraction
	}
	if totalFraction > 1.0+1e-9 {
		return fmt.Errorf("TAKE_PROFIT_LEVELS fractions sum to %v, must not exceed 1", totalFraction)
	}

	if r.MaxDailyLoss <= 0 {
		return fmt.Errorf("MAX_DAILY_LOSS must be positive, got %v", r.MaxDailyLoss)
	}
	if r.MaxConsecutiveLosses < 1 {
		return fmt.Errorf("MAX_CONSECUTIVE_LOSSES must be at least 1, got %d", r.MaxConsecutiveLosses)
	}
	if r.MaxPositionRisk <= 0 || r.MaxPositionRisk > 1 {
		return fmt.Errorf("MAX_POSITION_RISK must be in (0, 1], got %v", r.MaxPositionRisk)
	}
	if r.Leverage < 1 || r.Leverage > 125 {
		return fmt.Errorf("LEVERAGE must be in [1, 125], got %d", r.Leverage)
	}
	if r.PositionSize <= 0 {
		return fmt.Errorf("POSITION_SIZE must be positive, got %v", r.PositionSize)
	}

	return nil
}

// EffectiveTakeProfits возвращает действующий набор уровней TP.
//
// Правило приоритета: если заданы и многоуровневый (TAKE_PROFIT_LEVELS),
// и одноуровневый (TAKE_PROFIT_PERCENT) режимы, действует многоуровневый,
// одноуровневый игнорируется. Вызывающая сторона логирует предупреждение
// через OverlappingTakeProfitModes.
func (r RiskConfig) EffectiveTakeProfits() []TakeProfitLevel {
	if len(r.TakeProfits) > 0 {
		return r.TakeProfits
	}
	if r.SingleTakeProfit > 0 {
		return []TakeProfitLevel{{OffsetPercent: r.SingleTakeProfit, CloseFraction: 1.0}}
	}
	return nil
}

// OverlappingTakeProfitModes возвращает true, если заданы оба режима TP
// и одноуровневый был проигнорирован.
func (r RiskConfig) OverlappingTakeProfitModes() bool {
	return len(r.TakeProfits) > 0 && r.SingleTakeProfit > 0
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// parseTakeProfits разбирает формат "offset:fraction,offset:fraction".
// Некорректные элементы пропускаются, валидация диапазонов - в validateRisk.
func parseTakeProfits(s string) []TakeProfitLevel {
	if s == "" {
		return nil
	}

	var levels []TakeProfitLevel
	for _, item := range strings.Split(s, ",") {
		parts := strings.Split(strings.TrimSpace(item), ":")
		if len(parts) != 2 {
			continue
		}
		offset, err1 := strconv.ParseFloat(parts[0], 64)
		fraction, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		levels = append(levels, TakeProfitLevel{OffsetPercent: offset, CloseFraction: fraction})
	}
	return levels
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnvAsFloats(key string, defaultValue []float64) []float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []float64
	for _, item := range strings.Split(valueStr, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(item), 64)
		if err != nil {
			return defaultValue
		}
		out = append(out, v)
	}
	return out
}
