package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/agentdispatch/types"
)

// CreateTemplate stores a validated copy of def under name. A later call
// with the same name replaces it.
func (e *Engine) CreateTemplate(name string, def *Definition) error {
	if strings.TrimSpace(name) == "" {
		return types.NewError(types.ErrInvalidRequest, "template name is required")
	}
	if err := def.Validate(); err != nil {
		return err
	}

	e.templateMu.Lock()
	_, replaced := e.templates[name]
	e.templates[name] = def.Clone()
	e.templateMu.Unlock()

	e.logger.Info("workflow template stored",
		zap.String("template", name),
		zap.Bool("replaced", replaced),
	)
	return nil
}

// GetTemplate returns a copy of the named template or nil.
func (e *Engine) GetTemplate(name string) *Definition {
	e.templateMu.RLock()
	def, ok := e.templates[name]
	e.templateMu.RUnlock()
	if !ok {
		e.logger.Warn("workflow template not found", zap.String("template", name))
		return nil
	}
	return def.Clone()
}

// GetAvailableTemplates returns the template names in sorted order.
func (e *Engine) GetAvailableTemplates() []string {
	e.templateMu.RLock()
	defer e.templateMu.RUnlock()

	names := make([]string, 0, len(e.templates))
	for name := range e.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadTemplatesFromDir stores every .yaml, .yml and .json definition in dir
// as a template named after its name field, or the file name when the field
// is empty. Invalid files are skipped with a warning. A missing directory
// loads nothing.
func (e *Engine) LoadTemplatesFromDir(dir string) (int, error) {
	if dir == "" {
		return 0, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			e.logger.Debug("template directory does not exist", zap.String("dir", dir))
			return 0, nil
		}
		return 0, fmt.Errorf("read template dir: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			e.logger.Warn("skip unreadable template file", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}

		var def Definition
		if err := yaml.Unmarshal(data, &def); err != nil {
			e.logger.Warn("skip invalid template file", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		if def.Name == "" {
			def.Name = strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		}
		if err := e.CreateTemplate(def.Name, &def); err != nil {
			e.logger.Warn("skip invalid template", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		loaded++
	}

	e.logger.Info("workflow templates loaded", zap.String("dir", dir), zap.Int("count", loaded))
	return loaded, nil
}
