package plan

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// StepTemplate is the on-disk (JSON) shape of one undeployed step, before
// placeholder expansion and glob enumeration. Workflow templates live
// under a workspace's contest_env/workflows/<language>/<command>_<env>.json
// as a JSON array of StepTemplate.
type StepTemplate struct {
	Kind          Kind              `json:"kind"`
	Args          map[string]string `json:"args"`
	When          string            `json:"when"`
	AllowFailure  bool              `json:"allow_failure"`
	ParallelGroup string            `json:"parallel_group"`
	Description   string            `json:"description"`
	// FilePattern, when set, causes this template to expand into one Step
	// per file matched by globbing FilePattern under the workflow's base
	// directory; {file} becomes available in Args during expansion.
	FilePattern string `json:"file_pattern"`
}

// LoadWorkflowTemplate reads and parses the JSON step template array for
// (language, command, envType) from dir.
func LoadWorkflowTemplate(dir, language, command, envType string) ([]StepTemplate, error) {
	path := filepath.Join(dir, language, fmt.Sprintf("%s_%s.json", command, envType))
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow template %s: %w", path, err)
	}
	var templates []StepTemplate
	if err := json.Unmarshal(raw, &templates); err != nil {
		return nil, fmt.Errorf("parsing workflow template %s: %w", path, err)
	}
	return templates, nil
}
