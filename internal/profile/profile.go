package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start the dialogue orchestrator server.
type Profile struct {
	// NLU adapter configuration. Provider "mock" uses the built-in
	// rule-based adapter; "http" calls an external classifier.
	NLUProvider string
	NLUBaseURL  string
	NLUAPIKey   string
	NLUTimeout  int // seconds

	// Knowledge-base fallback configuration, used by the handler dispatcher
	// when an intent resolves to "unknown" / out-of-domain input.
	KBProvider string
	KBBaseURL  string

	// Confidence thresholds (spec.md §4.5 bands), overridable per intent
	// via the registry.
	ConfidenceHigh   float64
	ConfidenceMedium float64
	ConfidenceLow    float64

	// Ambiguity detection.
	AmbiguityGapThreshold float64
	AmbiguityMaxCandidates int

	// Session / history.
	SessionTTLHours int
	HistoryWindow   int

	// Per-turn and per-handler deadlines, in milliseconds.
	TurnTimeoutMs           int
	HandlerDefaultTimeoutMs int

	// Background cleanup.
	CleanupIntervalHours int
	RetentionDaysTurns   int
	RetentionDaysAudit   int

	// Other configuration.
	UNIXSock   string
	Mode       string
	DSN        string
	Driver     string
	Version    string
	Addr       string
	Data       string
	Port       int
	MetricsOn  bool
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvOrDefaultBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true"
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.NLUProvider = getEnvOrDefault("DIALOGUED_NLU_PROVIDER", "mock")
	p.NLUBaseURL = getEnvOrDefault("DIALOGUED_NLU_BASE_URL", "")
	p.NLUAPIKey = getEnvOrDefault("DIALOGUED_NLU_API_KEY", "")
	p.NLUTimeout = getEnvOrDefaultInt("DIALOGUED_NLU_TIMEOUT_SECONDS", 5)

	p.KBProvider = getEnvOrDefault("DIALOGUED_KB_PROVIDER", "static")
	p.KBBaseURL = getEnvOrDefault("DIALOGUED_KB_BASE_URL", "")

	p.ConfidenceHigh = getEnvOrDefaultFloat("DIALOGUED_CONFIDENCE_HIGH", 0.85)
	p.ConfidenceMedium = getEnvOrDefaultFloat("DIALOGUED_CONFIDENCE_MEDIUM", 0.70)
	p.ConfidenceLow = getEnvOrDefaultFloat("DIALOGUED_CONFIDENCE_LOW", 0.55)

	p.AmbiguityGapThreshold = getEnvOrDefaultFloat("DIALOGUED_AMBIGUITY_GAP_THRESHOLD", 0.15)
	p.AmbiguityMaxCandidates = getEnvOrDefaultInt("DIALOGUED_AMBIGUITY_MAX_CANDIDATES", 5)

	p.SessionTTLHours = getEnvOrDefaultInt("DIALOGUED_SESSION_TTL_HOURS", 24)
	p.HistoryWindow = getEnvOrDefaultInt("DIALOGUED_HISTORY_WINDOW", 10)

	p.TurnTimeoutMs = getEnvOrDefaultInt("DIALOGUED_TURN_TIMEOUT_MS", 3000)
	p.HandlerDefaultTimeoutMs = getEnvOrDefaultInt("DIALOGUED_HANDLER_TIMEOUT_MS", 2000)

	p.CleanupIntervalHours = getEnvOrDefaultInt("DIALOGUED_CLEANUP_INTERVAL_HOURS", 1)
	p.RetentionDaysTurns = getEnvOrDefaultInt("DIALOGUED_RETENTION_DAYS_TURNS", 30)
	p.RetentionDaysAudit = getEnvOrDefaultInt("DIALOGUED_RETENTION_DAYS_AUDIT", 90)

	p.MetricsOn = getEnvOrDefaultBool("DIALOGUED_METRICS_ENABLED", true)
}

func checkDataDir(dataDir string) (string, error) {
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "dialogued")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
					return err
				}
			}
		} else {
			p.Data = "/var/opt/dialogued"
		}
	}

	if p.Driver != "sqlite" {
		return nil
	}

	if p.Data == "" {
		p.Data = "."
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
		return err
	}
	p.Data = dataDir

	if p.DSN == "" {
		dbFile := fmt.Sprintf("dialogued_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}
	return nil
}
