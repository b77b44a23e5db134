package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"
)

//go:embed seed.json
var seedJSON []byte

// SeedData returns the built-in catalog of known subscription services,
// used to populate an empty catalog bucket on first start.
func SeedData() ([]Service, error) {
	var services []Service
	if err := json.Unmarshal(seedJSON, &services); err != nil {
		return nil, fmt.Errorf("parsing catalog seed: %w", err)
	}
	return services, nil
}
