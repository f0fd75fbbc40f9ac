package reco

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type catalogDocument struct {
	Products []Product `yaml:"products" validate:"dive"`
}

// ParseCatalog decodes a YAML (or JSON) document with a top-level products
// list.
func ParseCatalog(data []byte) (*MapCatalog, error) {
	var doc catalogDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}
	if err := validate.Struct(doc); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	return NewMapCatalog(doc.Products), nil
}

// LoadCatalogFile reads and parses a catalog document.
func LoadCatalogFile(path string) (*MapCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return ParseCatalog(data)
}
