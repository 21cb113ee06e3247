package presets

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrValidation marks payload rejections. Callers classify with errors.Is
// and read the machine code from ValidationError.
var ErrValidation = errors.New("invalid payload")

// ValidationError carries the machine-readable rejection code, e.g.
// "missing_network_id" or "invalid_param:prompt".
type ValidationError struct {
	Code string
}

func (e *ValidationError) Error() string { return e.Code }

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(code string) error { return &ValidationError{Code: code} }

// NormalizedPayload is a validated, defaulted request body ready for
// provider submission.
type NormalizedPayload struct {
	NetworkID string         `json:"network_id"`
	Params    map[string]any `json:"params"`
}

// Catalog holds the preset definitions with their parameter schemas compiled
// once at startup.
type Catalog struct {
	presets   []Preset
	byNetwork map[string]*compiledPreset
}

type compiledPreset struct {
	preset Preset
	schema *jsonschema.Schema
}

// NewCatalog compiles every preset's field constraints into a JSON Schema.
func NewCatalog() (*Catalog, error) {
	c := &Catalog{presets: Definitions, byNetwork: make(map[string]*compiledPreset)}
	for i := range c.presets {
		p := c.presets[i]
		schema, err := compileFieldSchema(p)
		if err != nil {
			return nil, fmt.Errorf("compile preset %q: %w", p.ID, err)
		}
		c.byNetwork[p.NetworkID] = &compiledPreset{preset: p, schema: schema}
	}
	return c, nil
}

// List returns the full catalog for the presets endpoint.
func (c *Catalog) List() []Preset {
	return c.presets
}

// ByNetworkID returns the preset addressing the given provider network.
func (c *Catalog) ByNetworkID(networkID string) (*Preset, bool) {
	cp, ok := c.byNetwork[networkID]
	if !ok {
		return nil, false
	}
	return &cp.preset, true
}

// Normalize validates rawPayload against the preset addressed by its
// network_id and returns the defaulted parameter set. Every rejection wraps
// ErrValidation with a machine code.
func (c *Catalog) Normalize(jobType string, rawPayload json.RawMessage) (*NormalizedPayload, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(rawPayload, &payload); err != nil {
		return nil, invalid("invalid_payload")
	}
	if _, ok := payload["function_id"]; ok {
		return nil, invalid("function_id_not_allowed")
	}
	if _, ok := payload["implementation"]; ok {
		return nil, invalid("function_id_not_allowed")
	}

	var networkID string
	if raw, ok := payload["network_id"]; ok {
		_ = json.Unmarshal(raw, &networkID)
	}
	if networkID == "" {
		return nil, invalid("missing_network_id")
	}
	cp, ok := c.byNetwork[networkID]
	if !ok {
		return nil, invalid("unknown_network_id")
	}
	if cp.preset.JobType != jobType {
		return nil, invalid("job_type_mismatch")
	}

	params := map[string]any{}
	if raw, ok := payload["params"]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, invalid("invalid_params")
		}
	}

	allowed := make(map[string]Field, len(cp.preset.Fields))
	for _, f := range cp.preset.Fields {
		allowed[f.Name] = f
	}
	for name := range params {
		if _, ok := allowed[name]; !ok {
			return nil, invalid("unknown_param:" + name)
		}
	}

	normalized := map[string]any{}
	for _, f := range cp.preset.Fields {
		value, present := params[f.Name]
		if isEmpty(value) {
			present = false
		}
		if f.Required {
			if !present {
				return nil, invalid("missing_param:" + f.Name)
			}
			normalized[f.Name] = value
			continue
		}
		if present {
			normalized[f.Name] = value
		} else if f.Default != nil {
			normalized[f.Name] = f.Default
		}
	}

	if err := validateAgainstSchema(cp.schema, normalized); err != nil {
		return nil, err
	}
	return &NormalizedPayload{NetworkID: networkID, Params: normalized}, nil
}

// PollingSettings returns the provider poll timeout/interval for a job,
// using the preset override when set and the per-type default otherwise.
func (c *Catalog) PollingSettings(jobType, networkID string) PollingSettings {
	settings := PollingSettings{Interval: defaultPollInterval}
	if t, ok := defaultTimeouts[jobType]; ok {
		settings.Timeout = t
	} else {
		settings.Timeout = defaultTimeouts["text"]
	}
	if cp, ok := c.byNetwork[networkID]; ok {
		if cp.preset.PollTimeout > 0 {
			settings.Timeout = cp.preset.PollTimeout
		}
		if cp.preset.PollInterval > 0 {
			settings.Interval = cp.preset.PollInterval
		}
	}
	return settings
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

// compileFieldSchema turns a preset's field list into a JSON Schema covering
// type and enum constraints. Required/unknown handling stays in Normalize so
// rejections keep their precise codes.
func compileFieldSchema(p Preset) (*jsonschema.Schema, error) {
	properties := map[string]any{}
	for _, f := range p.Fields {
		prop := map[string]any{"type": f.Type}
		if len(f.Enum) > 0 {
			prop["enum"] = f.Enum
		}
		properties[f.Name] = prop
	}
	doc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	id := "https://pelicanone.dev/presets/" + p.ID + ".input"
	return jsonschema.CompileString(id, string(raw))
}

func validateAgainstSchema(schema *jsonschema.Schema, params map[string]any) error {
	doc := make(map[string]any, len(params))
	for k, v := range params {
		doc[k] = v
	}
	err := schema.Validate(doc)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if errors.As(err, &ve) {
		if name := failingField(ve); name != "" {
			return invalid("invalid_param:" + name)
		}
	}
	return invalid("invalid_params")
}

// failingField walks to a leaf cause and extracts the offending property
// name from its instance location ("/prompt" -> "prompt").
func failingField(ve *jsonschema.ValidationError) string {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	loc := strings.TrimPrefix(ve.InstanceLocation, "/")
	if loc == "" {
		return ""
	}
	if i := strings.IndexByte(loc, '/'); i >= 0 {
		loc = loc[:i]
	}
	return loc
}
