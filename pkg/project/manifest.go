package project

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/nbdeploy/nbdeploy/pkg/deployerr"
	"github.com/nbdeploy/nbdeploy/pkg/engine"
)

// ManifestFileName is the project manifest written by init at the project
// root.
const ManifestFileName = "nbdeploy.yaml"

// VariableDef declares one template variable.
type VariableDef struct {
	// Name is the variable name.
	Name string `yaml:"name" validate:"required"`

	// Type is the variable's value type.
	Type string `yaml:"type" validate:"required,oneof=str int bool list"`

	// Required marks variables that must resolve to a value before apply.
	Required bool `yaml:"required,omitempty"`

	// Sensitive marks variables whose values are redacted from history.
	Sensitive bool `yaml:"sensitive,omitempty"`

	// Default is the declared default value, in string form.
	Default *string `yaml:"default,omitempty"`

	// Description documents the variable for the operator.
	Description string `yaml:"description,omitempty"`
}

// Manifest is the template package descriptor at the project root. It
// declares which backend combination the project uses and the variable
// schema the lifecycle controller validates against.
type Manifest struct {
	// SchemaVersion is the manifest format version.
	SchemaVersion int `yaml:"schema_version" validate:"required,eq=1"`

	// Template is the backend combination in engine/provider/compute/
	// identity form.
	Template string `yaml:"template" validate:"required"`

	// Variables is the declared variable schema.
	Variables []VariableDef `yaml:"variables" validate:"dive"`
}

var validate = validator.New()

// TemplateRef parses the manifest's template reference.
func (m *Manifest) TemplateRef() (engine.TemplateRef, error) {
	ref, err := engine.ParseTemplateRef(m.Template)
	if err != nil {
		return engine.TemplateRef{}, deployerr.NewValidation("invalid template reference in manifest", err)
	}
	return ref, nil
}

// Variable returns the declared definition for name.
func (m *Manifest) Variable(name string) (VariableDef, bool) {
	for _, def := range m.Variables {
		if def.Name == name {
			return def, true
		}
	}
	return VariableDef{}, false
}

// ValidateValues checks a set of operator-provided variable values against
// the schema: every name must be declared and every value must parse as the
// declared type.
func (m *Manifest) ValidateValues(values map[string]string) error {
	for name, value := range values {
		def, ok := m.Variable(name)
		if !ok {
			return deployerr.NewValidation(
				fmt.Sprintf("variable %q is not declared by template %s", name, m.Template), nil)
		}
		if err := checkType(def, value); err != nil {
			return err
		}
	}
	return nil
}

// CheckComplete verifies that every required variable resolves to a value,
// the gate before apply is permitted.
func (m *Manifest) CheckComplete(values map[string]VariableValue) error {
	var missing []string
	for _, def := range m.Variables {
		if !def.Required {
			continue
		}
		if v, ok := values[def.Name]; !ok || v.Value == "" {
			missing = append(missing, def.Name)
		}
	}
	if len(missing) > 0 {
		return deployerr.NewValidation(
			fmt.Sprintf("required variables are unset: %v", missing), nil)
	}
	return nil
}

func checkType(def VariableDef, value string) error {
	switch def.Type {
	case "int":
		if _, err := strconv.Atoi(value); err != nil {
			return deployerr.NewValidation(
				fmt.Sprintf("variable %q must be an integer, got %q", def.Name, value), nil)
		}
	case "bool":
		if _, err := strconv.ParseBool(value); err != nil {
			return deployerr.NewValidation(
				fmt.Sprintf("variable %q must be a boolean, got %q", def.Name, value), nil)
		}
	}
	// str and list accept any string; list values are comma-separated.
	return nil
}

// LoadManifest reads and validates the project manifest.
func LoadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestFileName)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, deployerr.NewValidation(
				fmt.Sprintf("no manifest found at %s", path), ErrNotInitialized)
		}
		return nil, deployerr.NewStateCorruption("cannot read project manifest", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, deployerr.NewValidation("project manifest is not valid YAML", err)
	}
	if err := validate.Struct(&m); err != nil {
		return nil, deployerr.NewValidation("project manifest failed schema validation", err)
	}
	if _, err := m.TemplateRef(); err != nil {
		return nil, err
	}
	return &m, nil
}

// WriteManifest persists a manifest to the project root. Used by init to lay
// down the template skeleton.
func WriteManifest(dir string, m *Manifest) error {
	raw, err := yaml.Marshal(m)
	if err != nil {
		return deployerr.NewStateCorruption("cannot serialize project manifest", err)
	}
	path := filepath.Join(dir, ManifestFileName)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return deployerr.NewStateCorruption("cannot write project manifest", err)
	}
	return nil
}
