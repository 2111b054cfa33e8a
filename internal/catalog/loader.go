package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/tardoc-pauschale-server/internal/domain"
)

// Catalogue file names expected under the data directory.
const (
	fileLeistungskatalog = "leistungskatalog.json"
	fileTables           = "tabellen.json"
	filePauschalen       = "pauschalen.json"
	fileConditions       = "pauschale_bedingungen.json"
	fileServiceLinks     = "pauschale_leistungen.json"
	fileRules            = "regelwerk.json"
	fileGruppen          = "leistungsgruppen.json"
)

// rawTableRow mirrors the tabellen.json row format with its raw table type
// token; normalisation happens at load time.
type rawTableRow struct {
	Table     string            `json:"table"`
	TableType string            `json:"table_type"`
	Code      string            `json:"code"`
	CodeText  domain.Translated `json:"code_text"`
}

// Load reads every catalogue file from dir and returns the indexed store.
// Catalogues are loaded once at startup and immutable thereafter.
func Load(dir string, logger *logrus.Logger) (*Store, error) {
	var data Data

	if err := readJSON(filepath.Join(dir, fileLeistungskatalog), &data.Entries); err != nil {
		return nil, fmt.Errorf("loading service catalogue: %w", err)
	}

	var rawTables []rawTableRow
	if err := readJSON(filepath.Join(dir, fileTables), &rawTables); err != nil {
		return nil, fmt.Errorf("loading tariff tables: %w", err)
	}
	data.Tables = make([]domain.TableEntry, 0, len(rawTables))
	for _, r := range rawTables {
		data.Tables = append(data.Tables, domain.TableEntry{
			Table:     r.Table,
			TableType: domain.NormalizeTableType(r.TableType),
			Code:      r.Code,
			CodeText:  r.CodeText,
		})
	}

	if err := readJSON(filepath.Join(dir, filePauschalen), &data.Pauschalen); err != nil {
		return nil, fmt.Errorf("loading package definitions: %w", err)
	}
	if err := readJSON(filepath.Join(dir, fileConditions), &data.Conditions); err != nil {
		return nil, fmt.Errorf("loading package conditions: %w", err)
	}
	if err := readJSON(filepath.Join(dir, fileServiceLinks), &data.ServiceLinks); err != nil {
		return nil, fmt.Errorf("loading package-service links: %w", err)
	}
	if err := readJSON(filepath.Join(dir, fileRules), &data.Rules); err != nil {
		return nil, fmt.Errorf("loading rule book: %w", err)
	}
	if err := readJSON(filepath.Join(dir, fileGruppen), &data.Gruppen); err != nil {
		// Leistungsgruppen are optional in older catalogue exports.
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading service groups: %w", err)
		}
		data.Gruppen = map[string][]string{}
	}

	return NewStore(data, logger), nil
}

func readJSON(path string, v interface{}) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return nil
}
