package orchestrator

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/relay/internal/models"
)

// Library holds named plans loaded from the plans directory. Workflow steps
// reference these by id.
type Library struct {
	mu     sync.RWMutex
	plans  map[string]*models.Plan
	logger arbor.ILogger
}

// NewLibrary creates an empty plan library
func NewLibrary(logger arbor.ILogger) *Library {
	return &Library{
		plans:  make(map[string]*models.Plan),
		logger: logger,
	}
}

// LoadDir reads every plan definition in dir. TOML, YAML and JSON files are
// accepted; the plan id defaults to the file name without extension. A
// missing directory is not an error; deployments without a plan library
// simply submit inline plans.
func (l *Library) LoadDir(dir string) error {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			l.logger.Debug().Str("dir", dir).Msg("Plans directory does not exist, skipping")
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		switch ext {
		case ".toml", ".yaml", ".yml", ".json":
		default:
			continue
		}

		path := filepath.Join(dir, entry.Name())
		plan, err := loadPlanFile(path, ext)
		if err != nil {
			l.logger.Warn().Err(err).Str("file", path).Msg("Skipping invalid plan file")
			continue
		}
		if plan.ID == "" {
			plan.ID = strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		}
		if err := plan.Validate(); err != nil {
			l.logger.Warn().Err(err).Str("file", path).Msg("Skipping invalid plan")
			continue
		}

		l.Register(plan)
		l.logger.Info().Str("plan_id", plan.ID).Str("file", entry.Name()).Msg("Loaded plan")
	}
	return nil
}

// loadPlanFile decodes one plan definition. TOML and YAML are converted
// through JSON so step-type inference applies uniformly.
func loadPlanFile(path, ext string) (*models.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if ext == ".json" {
		return models.PlanFromJSON(data)
	}

	var raw map[string]any
	switch ext {
	case ".toml":
		if err := toml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	default:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	}

	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	return models.PlanFromJSON(jsonData)
}

// Register adds a plan under its id
func (l *Library) Register(plan *models.Plan) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.plans[plan.ID] = plan
}

// Get returns the plan registered under id
func (l *Library) Get(id string) (*models.Plan, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	plan, ok := l.plans[id]
	return plan, ok
}

// IDs returns the registered plan ids, sorted
func (l *Library) IDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.plans))
	for id := range l.plans {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
