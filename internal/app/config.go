package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/veldt/crystal-backend/internal/consolidate"
	"github.com/veldt/crystal-backend/internal/ingest"
	"github.com/veldt/crystal-backend/internal/platform/logger"
	"github.com/veldt/crystal-backend/internal/resolve"
	"github.com/veldt/crystal-backend/internal/retrieval"
	"github.com/veldt/crystal-backend/internal/session"
)

// Config carries every tunable threshold. Zero values mean "use the
// default"; an optional YAML file (CONFIG_PATH) overrides defaults and
// env vars override the file.
type Config struct {
	Port          string `yaml:"port"`
	LogMode       string `yaml:"log_mode"`
	EmbeddingDims int    `yaml:"embedding_dims"`

	RateGate struct {
		Capacity   int     `yaml:"capacity"`
		RefillRate float64 `yaml:"refill_rate"`
	} `yaml:"rate_gate"`

	Session struct {
		TTLHours int `yaml:"ttl_hours"`
	} `yaml:"session"`

	Retrieval struct {
		SessionSeedLimit    int     `yaml:"session_seed_limit"`
		SessionSeedFloor    float64 `yaml:"session_seed_floor"`
		SessionConceptFloor float64 `yaml:"session_concept_floor"`
		GlobalConceptFloor  float64 `yaml:"global_concept_floor"`
		SparsityThreshold   int     `yaml:"sparsity_threshold"`
		ScoutTimeoutMS      int     `yaml:"scout_timeout_ms"`
	} `yaml:"retrieval"`

	Resolve struct {
		AutoMergeCosine float64 `yaml:"auto_merge_cosine"`
		AutoMergeFuzzy  int     `yaml:"auto_merge_fuzzy"`
		AmbiguousFloor  float64 `yaml:"ambiguous_floor"`
		BatchSize       int     `yaml:"batch_size"`
	} `yaml:"resolve"`

	Consolidate struct {
		CandidateFloor     float64 `yaml:"candidate_floor"`
		CandidatesPerDraft int     `yaml:"candidates_per_draft"`
		MasteryBump        float64 `yaml:"mastery_bump"`
	} `yaml:"consolidate"`

	Ingest struct {
		ConflictFloor      float64 `yaml:"conflict_floor"`
		ConflictCandidates int     `yaml:"conflict_candidates"`
		HarvestMaxSeeds    int     `yaml:"harvest_max_seeds"`
	} `yaml:"ingest"`
}

func LoadConfig(log *logger.Logger) Config {
	var cfg Config

	path := strings.TrimSpace(os.Getenv("CONFIG_PATH"))
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn("Config file unreadable, using defaults", "path", path, "error", err)
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Warn("Config file malformed, using defaults", "path", path, "error", err)
			cfg = Config{}
		} else {
			log.Info("Config loaded", "path", path)
		}
	}

	cfg.Port = envStr("PORT", cfg.Port, "8080")
	cfg.LogMode = envStr("LOG_MODE", cfg.LogMode, "development")
	cfg.EmbeddingDims = envInt("EMBEDDING_DIMS", cfg.EmbeddingDims, 1536)
	cfg.RateGate.Capacity = envInt("RATE_GATE_CAPACITY", cfg.RateGate.Capacity, 60)
	cfg.RateGate.RefillRate = envFloat("RATE_GATE_REFILL_RATE", cfg.RateGate.RefillRate, 1.0)
	cfg.Session.TTLHours = envInt("SESSION_TTL_HOURS", cfg.Session.TTLHours, 24)

	return cfg
}

// RetrievalOptions starts from the defaults and applies only the fields
// the file or env actually set, so new tunables never zero out.
func (c Config) RetrievalOptions() retrieval.Options {
	opts := retrieval.DefaultOptions()
	if c.Retrieval.SessionSeedLimit > 0 {
		opts.SessionSeedLimit = c.Retrieval.SessionSeedLimit
	}
	if c.Retrieval.SessionSeedFloor > 0 {
		opts.SessionSeedFloor = c.Retrieval.SessionSeedFloor
	}
	if c.Retrieval.SessionConceptFloor > 0 {
		opts.SessionConceptFloor = c.Retrieval.SessionConceptFloor
	}
	if c.Retrieval.GlobalConceptFloor > 0 {
		opts.GlobalConceptFloor = c.Retrieval.GlobalConceptFloor
	}
	if c.Retrieval.SparsityThreshold > 0 {
		opts.SparsityThreshold = c.Retrieval.SparsityThreshold
	}
	if c.Retrieval.ScoutTimeoutMS > 0 {
		opts.ScoutTimeout = time.Duration(c.Retrieval.ScoutTimeoutMS) * time.Millisecond
	}
	return opts
}

func (c Config) ResolveOptions() resolve.Options {
	opts := resolve.DefaultOptions()
	if c.Resolve.AutoMergeCosine > 0 {
		opts.AutoMergeCosine = c.Resolve.AutoMergeCosine
	}
	if c.Resolve.AutoMergeFuzzy > 0 {
		opts.AutoMergeFuzzy = c.Resolve.AutoMergeFuzzy
	}
	if c.Resolve.AmbiguousFloor > 0 {
		opts.AmbiguousFloor = c.Resolve.AmbiguousFloor
	}
	if c.Resolve.BatchSize > 0 {
		opts.BatchSize = c.Resolve.BatchSize
	}
	return opts
}

func (c Config) ConsolidateOptions() consolidate.Options {
	opts := consolidate.DefaultOptions()
	if c.Consolidate.CandidateFloor > 0 {
		opts.CandidateFloor = c.Consolidate.CandidateFloor
	}
	if c.Consolidate.CandidatesPerDraft > 0 {
		opts.CandidatesPerDraft = c.Consolidate.CandidatesPerDraft
	}
	if c.Consolidate.MasteryBump > 0 {
		opts.MasteryBump = c.Consolidate.MasteryBump
	}
	return opts
}

func (c Config) IngestOptions() ingest.Options {
	opts := ingest.DefaultOptions()
	if c.Ingest.ConflictFloor > 0 {
		opts.ConflictFloor = c.Ingest.ConflictFloor
	}
	if c.Ingest.ConflictCandidates > 0 {
		opts.ConflictCandidates = c.Ingest.ConflictCandidates
	}
	if c.Ingest.HarvestMaxSeeds > 0 {
		opts.HarvestMaxSeeds = c.Ingest.HarvestMaxSeeds
	}
	return opts
}

func (c Config) SessionOptions() session.Options {
	opts := session.DefaultOptions()
	if c.Session.TTLHours > 0 {
		opts.TTL = time.Duration(c.Session.TTLHours) * time.Hour
	}
	return opts
}

func envStr(key, current, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	if current != "" {
		return current
	}
	return fallback
}

func envInt(key string, current, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	if current > 0 {
		return current
	}
	return fallback
}

func envFloat(key string, current, fallback float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return f
		}
	}
	if current > 0 {
		return current
	}
	return fallback
}

func (c Config) Addr() string {
	return fmt.Sprintf(":%s", c.Port)
}
