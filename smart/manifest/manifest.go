package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	// ModeUI is the manifest mode of SMART apps that are displayed to the user.
	ModeUI = "ui"
	// Source is the source of all plugins synthesized from a SMART manifest.
	Source = "SMART Platform"
	// Category is the category of all plugins synthesized from a SMART manifest.
	Category = "SMART apps"
	// IDPrefix is prepended to the client ID of the SMART app to form the plugin ID.
	IDPrefix = "smart_"
)

// Manifest holds the values of a SMART app manifest.
type Manifest map[string]string

// Parse reads a SMART manifest in JSON format.
// Scalar values are converted to strings, nested objects and arrays are ignored.
func Parse(reader io.Reader) (Manifest, error) {
	var raw map[string]any
	if err := json.NewDecoder(reader).Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid SMART manifest: %w", err)
	}
	result := Manifest{}
	for key, value := range raw {
		switch v := value.(type) {
		case string:
			result[key] = v
		case float64:
			result[key] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			result[key] = strconv.FormatBool(v)
		}
	}
	return result, nil
}

// Value returns the manifest value for the given key, or an empty string if not present.
func (m Manifest) Value(key string) string {
	return m[key]
}

// Scopes returns the SMART context scopes the app requires, as listed in the comma-separated "scope" value.
func (m Manifest) Scopes() []string {
	var result []string
	for _, scope := range strings.Split(m.Value("scope"), ",") {
		scope = strings.TrimSpace(scope)
		if scope != "" {
			result = append(result, scope)
		}
	}
	return result
}

func (m Manifest) Clone() Manifest {
	if m == nil {
		return Manifest{}
	}
	return maps.Clone(m)
}

// PluginDefinition describes a SMART app that can be hosted by the shell.
type PluginDefinition struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	URL         string   `json:"url"`
	Description string   `json:"description,omitempty"`
	Source      string   `json:"source"`
	Creator     string   `json:"creator,omitempty"`
	Version     string   `json:"version,omitempty"`
	Icon        string   `json:"icon,omitempty"`
	Category    string   `json:"category"`
	Manifest    Manifest `json:"-"`
}

type uiManifest struct {
	ClientID   string `json:"client_id" validate:"required"`
	ClientName string `json:"client_name" validate:"required"`
	LaunchURI  string `json:"launch_uri" validate:"required"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	result := validator.New()
	result.RegisterTagNameFunc(func(field reflect.StructField) string {
		return strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
	})
	return result
}

// ToDefinition synthesizes a plugin definition from a SMART manifest.
// It returns nil if the manifest doesn't describe a UI app.
func ToDefinition(manifest Manifest) (*PluginDefinition, error) {
	if manifest.Value("mode") != ModeUI {
		return nil, nil
	}
	fields := uiManifest{
		ClientID:   manifest.Value("client_id"),
		ClientName: manifest.Value("client_name"),
		LaunchURI:  manifest.Value("launch_uri"),
	}
	if err := validate.Struct(fields); err != nil {
		return nil, formatValidationError(err)
	}
	return &PluginDefinition{
		ID:          IDPrefix + strings.NewReplacer(" ", "_", "@", "_").Replace(fields.ClientID),
		Name:        fields.ClientName,
		URL:         fields.LaunchURI,
		Description: manifest.Value("description"),
		Source:      Source,
		Creator:     manifest.Value("author"),
		Version:     manifest.Value("version"),
		Icon:        manifest.Value("logo_uri"),
		Category:    Category,
		Manifest:    manifest.Clone(),
	}, nil
}

func formatValidationError(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("invalid SMART manifest: %w", err)
	}
	var messages []string
	for _, fieldErr := range validationErrors {
		messages = append(messages, fmt.Sprintf("%s is %s", fieldErr.Field(), fieldErr.Tag()))
	}
	return fmt.Errorf("invalid SMART manifest: %s", strings.Join(messages, ", "))
}
