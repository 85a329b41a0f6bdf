package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/polywatch/internal/application/coordination"
)

// Config es la configuración completa del watcher.
type Config struct {
	Detection DetectionConfig `yaml:"detection"`
	Batch     BatchConfig     `yaml:"batch"`
	API       APIConfig       `yaml:"api"`
	Storage   StorageConfig   `yaml:"storage"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Redis     RedisConfig     `yaml:"redis"`
}

// DetectionConfig controla los umbrales de similitud y riesgo.
// Los campos a cero toman el valor por defecto del engine.
type DetectionConfig struct {
	Weights struct {
		MarketOverlap float64 `yaml:"market_overlap"`
		Timing        float64 `yaml:"timing"`
		Direction     float64 `yaml:"direction"`
		Size          float64 `yaml:"size"`
		WinRate       float64 `yaml:"win_rate"`
	} `yaml:"weights"`
	SimultaneousWindowSeconds float64 `yaml:"simultaneous_window_seconds"`
	CoordinationThreshold     float64 `yaml:"coordination_threshold"`
	StrongOverlap             float64 `yaml:"strong_overlap"`
	StrongTiming              float64 `yaml:"strong_timing"`
	StrongDirection           float64 `yaml:"strong_direction"`
	StrongSize                float64 `yaml:"strong_size"`
	StrongWinRate             float64 `yaml:"strong_win_rate"`
	MinMatchedPairs           int     `yaml:"min_matched_pairs"`
	MinResolvedTrades         int     `yaml:"min_resolved_trades"`
	Risk                      struct {
		Low      float64 `yaml:"low"`
		Medium   float64 `yaml:"medium"`
		High     float64 `yaml:"high"`
		Critical float64 `yaml:"critical"`
	} `yaml:"risk"`
	CacheMaxEntries int `yaml:"cache_max_entries"`
}

// BatchConfig controla el análisis por lotes.
type BatchConfig struct {
	Concurrency   int `yaml:"concurrency"`    // 0 = NumCPU
	BudgetSeconds int `yaml:"budget_seconds"` // 0 = sin límite
}

// APIConfig contiene los base URLs de las APIs.
type APIConfig struct {
	DataBase        string `yaml:"data_base"`
	GammaBase       string `yaml:"gamma_base"`
	ResolveOutcomes bool   `yaml:"resolve_outcomes"` // marcar WIN/LOSS con Gamma al descargar
	LookbackDays    int    `yaml:"lookback_days"`    // cuánto historial descargar con -fetch
	RetryWaitMillis int    `yaml:"retry_wait_millis"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// MetricsConfig controla el endpoint de Prometheus. Addr vacío = deshabilitado.
type MetricsConfig struct {
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace"`
}

// RedisConfig controla la publicación de eventos. Addr vacío = deshabilitado.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
	Stream   string `yaml:"stream"`
	Buffer   int    `yaml:"buffer"`
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return cfg, nil
}

// Parse decodifica YAML y aplica overrides de entorno y defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// EngineConfig traduce la sección detection/batch a coordination.Config.
// No valida: eso ocurre al construir el engine.
func (c *Config) EngineConfig() coordination.Config {
	out := coordination.DefaultConfig()
	d := c.Detection

	w := d.Weights
	if w.MarketOverlap+w.Timing+w.Direction+w.Size+w.WinRate > 0 {
		out.Weights = coordination.Weights{
			MarketOverlap: w.MarketOverlap,
			Timing:        w.Timing,
			Direction:     w.Direction,
			Size:          w.Size,
			WinRate:       w.WinRate,
		}
	}
	if d.SimultaneousWindowSeconds > 0 {
		out.SimultaneousWindow = time.Duration(d.SimultaneousWindowSeconds * float64(time.Second))
	}
	setIfPositive(&out.CoordinationThreshold, d.CoordinationThreshold)
	setIfPositive(&out.StrongOverlap, d.StrongOverlap)
	setIfPositive(&out.StrongTiming, d.StrongTiming)
	setIfPositive(&out.StrongDirection, d.StrongDirection)
	setIfPositive(&out.StrongSize, d.StrongSize)
	setIfPositive(&out.StrongWinRate, d.StrongWinRate)
	if d.MinMatchedPairs > 0 {
		out.MinMatchedPairs = d.MinMatchedPairs
	}
	if d.MinResolvedTrades > 0 {
		out.MinResolvedTrades = d.MinResolvedTrades
	}
	if r := d.Risk; r.Low+r.Medium+r.High+r.Critical > 0 {
		out.Risk = coordination.RiskThresholds{Low: r.Low, Medium: r.Medium, High: r.High, Critical: r.Critical}
	}
	if d.CacheMaxEntries > 0 {
		out.CacheMaxEntries = d.CacheMaxEntries
	}

	if c.Batch.Concurrency > 0 {
		out.Concurrency = c.Batch.Concurrency
	}
	out.BatchBudget = c.BatchBudget()
	return out
}

// BatchBudget devuelve el presupuesto del batch como time.Duration.
func (c *Config) BatchBudget() time.Duration {
	return time.Duration(c.Batch.BudgetSeconds) * time.Second
}

// Lookback devuelve cuánto historial descargar desde la Data API.
func (c *Config) Lookback() time.Duration {
	return time.Duration(c.API.LookbackDays) * 24 * time.Hour
}

// RetryWait devuelve la espera base entre reintentos HTTP.
func (c *Config) RetryWait() time.Duration {
	return time.Duration(c.API.RetryWaitMillis) * time.Millisecond
}

func setIfPositive(dst *float64, v float64) {
	if v > 0 {
		*dst = v
	}
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("POLYWATCH_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.API.DataBase == "" {
		cfg.API.DataBase = "https://data-api.polymarket.com"
	}
	if cfg.API.GammaBase == "" {
		cfg.API.GammaBase = "https://gamma-api.polymarket.com"
	}
	if cfg.API.LookbackDays <= 0 {
		cfg.API.LookbackDays = 30
	}
	if cfg.API.RetryWaitMillis <= 0 {
		cfg.API.RetryWaitMillis = 500
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "polywatch.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "polywatch"
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "polywatch"
	}
	if cfg.Redis.Buffer <= 0 {
		cfg.Redis.Buffer = 256
	}
}
