package config

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadAliases reads the alias table (informal name -> canonical name).
// YAML files hold an "aliases" mapping; .csv files hold two columns with an
// optional "alias,canonical" header.
func LoadAliases(path string) (map[string]string, error) {
	if path == "" {
		return map[string]string{}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open aliases %s: %w", path, err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return readAliasCSV(f)
	default:
		return readAliasYAML(f)
	}
}

func readAliasYAML(r io.Reader) (map[string]string, error) {
	var doc struct {
		Aliases map[string]string `yaml:"aliases"`
	}
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse aliases: %w", err)
	}
	if doc.Aliases == nil {
		doc.Aliases = map[string]string{}
	}
	return doc.Aliases, nil
}

func readAliasCSV(r io.Reader) (map[string]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse aliases: %w", err)
	}
	out := make(map[string]string, len(rows))
	for i, row := range rows {
		if len(row) < 2 {
			continue
		}
		if i == 0 && strings.EqualFold(row[0], "alias") {
			continue
		}
		alias, canonical := strings.TrimSpace(row[0]), strings.TrimSpace(row[1])
		if alias != "" && canonical != "" {
			out[alias] = canonical
		}
	}
	return out, nil
}
