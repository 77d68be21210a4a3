package config

import "github.com/caarlos0/env/v6"

type Config struct {
	// DatabasePath is the sqlite file backing the canonical store.
	DatabasePath string `env:"DATABASE_PATH" envDefault:"database/reality.db"`

	// Port the HTTP API listens on.
	Port string `env:"PORT" envDefault:"5250"`

	// RedisURL for the property event stream. Empty disables publishing.
	RedisURL string `env:"REDIS_URL" envDefault:""`

	// KuBoundariesPath points at the cadastral-unit boundary GeoJSON.
	// The file is not shipped with the repo; operators export it from the
	// RUIAN open data set and place it here. When it is missing the server
	// starts with cadastral attribution disabled.
	KuBoundariesPath string `env:"KU_BOUNDARIES_PATH" envDefault:"data/prague_ku_boundaries.geojson"`

	Dedup struct {
		// ScoreThreshold is the minimum similarity score at which a new
		// listing is linked to an existing one as a cross-source duplicate.
		ScoreThreshold int `env:"DEDUP_SCORE_THRESHOLD" envDefault:"5"`

		// MaxDistanceMeters is the GPS proximity radius scored as a match.
		MaxDistanceMeters float64 `env:"DEDUP_MAX_DISTANCE_M" envDefault:"50"`

		// CandidateWindowDays bounds how far back first_seen_at may lie for
		// a property to be considered as a duplicate candidate.
		CandidateWindowDays int `env:"DEDUP_CANDIDATE_WINDOW_DAYS" envDefault:"30"`
	}

	Staleness struct {
		// MissedRunThreshold: a listing is marked removed once missed_runs
		// exceeds this value, so the default removes on the third
		// consecutive miss.
		MissedRunThreshold int `env:"MISSED_RUN_THRESHOLD" envDefault:"2"`
	}

	Stats struct {
		// MinSamples per group for an aggregate row to be written.
		MinSamples int `env:"STATS_MIN_SAMPLES" envDefault:"1"`

		// StalePolicy for groups that lose all samples: "delete" or "flag".
		StalePolicy string `env:"STATS_STALE_POLICY" envDefault:"delete"`

		// PriceM2Min/Max bound plausible CZK per m2 values; samples outside
		// are excluded from aggregation.
		PriceM2Min float64 `env:"STATS_PRICE_M2_MIN" envDefault:"5000"`
		PriceM2Max float64 `env:"STATS_PRICE_M2_MAX" envDefault:"500000"`

		// CronSpec schedules the aggregation sweep.
		CronSpec string `env:"STATS_CRON" envDefault:"0 3 * * *"`
	}

	BatchProcessing struct {
		// QueueSize is the listing-batch queue buffer.
		QueueSize int `env:"BATCH_QUEUE_SIZE" envDefault:"64"`

		// ProcessorCount is the number of concurrent ingestion workers.
		ProcessorCount int `env:"BATCH_PROCESSOR_COUNT" envDefault:"2"`

		// MaxRetries for failed batch transactions.
		MaxRetries int `env:"BATCH_MAX_RETRIES" envDefault:"3"`

		// RetryDelay between retries in seconds.
		RetryDelay int `env:"BATCH_RETRY_DELAY" envDefault:"5"`
	}
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
