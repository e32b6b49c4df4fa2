package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gocarina/gocsv"
)

// MetadataRow is one line of the HAM10000 metadata table. Only the image id
// and diagnosis columns are used; the rest of the table is ignored.
type MetadataRow struct {
	ImageID string `csv:"image_id"`
	Class   string `csv:"dx"`
}

// ReadMetadata parses a HAM10000-style metadata CSV into an image-id to
// class mapping.
func ReadMetadata(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open metadata: %w", err)
	}
	defer file.Close()

	var rows []MetadataRow
	if err := gocsv.UnmarshalFile(file, &rows); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}

	meta := make(map[string]string, len(rows))
	for _, row := range rows {
		if row.ImageID == "" || row.Class == "" {
			return nil, fmt.Errorf("metadata row missing image_id or dx")
		}
		meta[row.ImageID] = row.Class
	}
	return meta, nil
}

// filterByMetadata keeps samples listed in the metadata table and checks the
// directory label against the table's diagnosis. A disagreement means the
// directory layout is stale relative to the CSV, which is a setup error.
func filterByMetadata(samples []Sample, meta map[string]string) ([]Sample, error) {
	kept := make([]Sample, 0, len(samples))
	for _, s := range samples {
		id := imageID(s.Path)
		class, ok := meta[id]
		if !ok {
			continue
		}
		if class != s.Class {
			return nil, fmt.Errorf("image %s labeled %q on disk but %q in metadata", id, s.Class, class)
		}
		kept = append(kept, s)
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("%w: no samples matched the metadata table", ErrEmptyDataset)
	}
	return kept, nil
}

func imageID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
