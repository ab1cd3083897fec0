package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Pinger reaches the recap backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check is the outcome of one environment check.
type Check struct {
	Name   string
	OK     bool
	Detail string
}

// CheckEnvironment verifies the directories are writable and, when recap
// is enabled, that its prompt file exists and its backend answers.
func CheckEnvironment(ctx context.Context, cfg *Config, pinger Pinger) []Check {
	checks := []Check{
		writable("WATSON_TEMP_DIR", cfg.TempDir),
		writable("WATSON_RECORDINGS_DIR", cfg.RecordingsDir),
	}
	if !cfg.RecapEnabled() {
		return append(checks, Check{Name: "recap", OK: true, Detail: "disabled (OLLAMA_RECAP_MODEL is empty)"})
	}

	if st, err := os.Stat(cfg.RecapPromptFile); err != nil || st.IsDir() {
		checks = append(checks, Check{Name: "RECAP_PROMPT_FILE", Detail: "not found: " + cfg.RecapPromptFile})
	} else {
		checks = append(checks, Check{Name: "RECAP_PROMPT_FILE", OK: true, Detail: cfg.RecapPromptFile})
	}

	if pinger == nil {
		return checks
	}
	if err := pinger.Ping(ctx); err != nil {
		checks = append(checks, Check{
			Name:   "recap backend",
			Detail: fmt.Sprintf("not reachable at %s (model %s): %v", cfg.OllamaHost, cfg.RecapModel, err),
		})
	} else {
		checks = append(checks, Check{Name: "recap backend", OK: true, Detail: cfg.OllamaHost})
	}
	return checks
}

// FirstFailure returns an error for the first failed check, if any.
func FirstFailure(checks []Check) error {
	for _, c := range checks {
		if !c.OK {
			return errors.Errorf("%s: %s", c.Name, c.Detail)
		}
	}
	return nil
}

func writable(name, dir string) Check {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Check{Name: name, Detail: fmt.Sprintf("%s is not writable: %v", dir, err)}
	}
	probe := filepath.Join(dir, ".watson_write_test")
	f, err := os.Create(probe)
	if err != nil {
		return Check{Name: name, Detail: fmt.Sprintf("%s is not writable: %v", dir, err)}
	}
	f.Close()
	os.Remove(probe)
	return Check{Name: name, OK: true, Detail: dir}
}
