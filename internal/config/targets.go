package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultTarget is the category page scraped when no targets file exists.
const DefaultTarget = "https://www.mercadolivre.com.br/c/celulares-e-telefones"

// Targets lists the pages a batch run scrapes.
type Targets struct {
	URLs []string `yaml:"urls"`
}

// LoadTargets reads a YAML targets file. A missing file yields DefaultTarget.
func LoadTargets(path string) (*Targets, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &Targets{URLs: []string{DefaultTarget}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read targets file %s: %w", path, err)
	}

	var t Targets
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse targets file %s: %w", path, err)
	}

	seen := make(map[string]bool, len(t.URLs))
	urls := make([]string, 0, len(t.URLs))
	for _, u := range t.URLs {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		urls = append(urls, u)
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("targets file %s lists no urls", path)
	}
	t.URLs = urls
	return &t, nil
}
