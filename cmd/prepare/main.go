// Command prepare lays out the raw HAM10000 download for training: the two
// image part directories are merged and every image is moved into a
// per-class directory named after its diagnosis in the metadata table.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/dataset"
)

func main() {
	rawDir := flag.String("raw", "./dataset/raw", "raw HAM10000 directory")
	outDir := flag.String("out", "./dataset/processed", "output directory for class folders")
	metadataCSV := flag.String("metadata", "", "metadata CSV path (default <raw>/HAM10000_metadata.csv)")
	flag.Parse()

	if *metadataCSV == "" {
		*metadataCSV = filepath.Join(*rawDir, "HAM10000_metadata.csv")
	}

	meta, err := dataset.ReadMetadata(*metadataCSV)
	if err != nil {
		log.Fatalf("failed to read metadata: %v", err)
	}

	moved, missing := 0, 0
	parts := []string{
		filepath.Join(*rawDir, "ham10000_images_part_1"),
		filepath.Join(*rawDir, "ham10000_images_part_2"),
	}
	for _, part := range parts {
		entries, err := os.ReadDir(part)
		if err != nil {
			log.Printf("skipping %s: %v", part, err)
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			name := entry.Name()
			id := name[:len(name)-len(filepath.Ext(name))]
			class, ok := meta[id]
			if !ok {
				missing++
				continue
			}
			classDir := filepath.Join(*outDir, class)
			if err := os.MkdirAll(classDir, 0o755); err != nil {
				log.Fatalf("failed to create %s: %v", classDir, err)
			}
			if err := os.Rename(filepath.Join(part, name), filepath.Join(classDir, name)); err != nil {
				log.Fatalf("failed to move %s: %v", name, err)
			}
			moved++
		}
	}

	log.Printf("moved %d images into class folders", moved)
	if missing > 0 {
		log.Printf("%d images had no metadata entry and were left in place", missing)
	}

	counts, err := countPerClass(*outDir)
	if err != nil {
		log.Fatalf("failed to count images: %v", err)
	}
	classes := make([]string, 0, len(counts))
	total := 0
	for class, n := range counts {
		classes = append(classes, class)
		total += n
	}
	sort.Strings(classes)
	fmt.Println("images per class:")
	for _, class := range classes {
		fmt.Printf("  %-8s %d\n", class, counts[class])
	}
	fmt.Printf("total: %d\n", total)
}

func countPerClass(root string) (map[string]int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(root, entry.Name()))
		if err != nil {
			return nil, err
		}
		n := 0
		for _, f := range files {
			if !f.IsDir() {
				n++
			}
		}
		counts[entry.Name()] = n
	}
	return counts, nil
}
