package location

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/voyaiage/go-tourism-chatbot/internal/types"
)

// LoadCatalogCSV reads the landmark dataset exported by the crawler.
// Rows without a name or address cannot be slugged or retrieved and are
// skipped with a warning.
func LoadCatalogCSV(path string, logger *slog.Logger) ([]types.Location, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog csv: %w", err)
	}
	defer f.Close()

	return parseCatalog(f, logger)
}

func parseCatalog(r io.Reader, logger *slog.Logger) ([]types.Location, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{"TenDiaDanh", "DiaChi"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("catalog csv missing column %q", required)
		}
	}

	field := func(record []string, name string) string {
		idx, ok := col[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	var locations []types.Location
	seen := make(map[string]bool)
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read csv record at line %d: %w", line, err)
		}

		name := field(record, "TenDiaDanh")
		address := field(record, "DiaChi")
		if name == "" || address == "" {
			logger.Warn("Skipping catalog row without name or address", slog.Int("line", line))
			continue
		}

		id := Slugify(name)
		if id == "" {
			logger.Warn("Skipping catalog row with unsluggable name", slog.Int("line", line), slog.String("name", name))
			continue
		}
		if seen[id] {
			logger.Warn("Skipping duplicate catalog entry", slog.String("id", id))
			continue
		}
		seen[id] = true

		loc := types.Location{
			ID:          id,
			Name:        name,
			Address:     address,
			Category:    field(record, "DichVu"),
			Description: field(record, "NoiDung"),
			ImageURL:    field(record, "ImageURL"),
		}
		if raw := field(record, "DanhGia (Google Map)"); raw != "" {
			if rating, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64); err == nil {
				loc.Rating = &rating
			}
		}
		locations = append(locations, loc)
	}

	return locations, nil
}
