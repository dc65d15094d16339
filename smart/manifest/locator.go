package manifest

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

const filePattern = "*.smart"

// Locator searches directories for SMART app manifests.
type Locator struct {
	Dirs []string
}

// Locate registers a plugin definition for every UI app manifest found.
// Manifests that can't be read are logged and skipped.
func (l Locator) Locate(registry *Registry) {
	log.Info().Msg("Searching for SMART app manifests...")
	for _, dir := range l.Dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			log.Error().Err(err).Msgf("Error searching for SMART manifests (dir=%s)", dir)
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if matched, _ := filepath.Match(filePattern, entry.Name()); !matched {
				continue
			}
			fileName := filepath.Join(dir, entry.Name())
			definition, err := loadDefinition(fileName)
			if err != nil {
				log.Error().Err(err).Msgf("Error loading SMART manifest: %s", fileName)
				continue
			}
			if definition != nil {
				registry.Register(definition)
				log.Info().Msgf("Found SMART manifest for %s (id=%s)", definition.Name, definition.ID)
			}
		}
	}
}

func loadDefinition(fileName string) (*PluginDefinition, error) {
	file, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	manifest, err := Parse(file)
	if err != nil {
		return nil, err
	}
	return ToDefinition(manifest)
}
