package cmd

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/pmmail-to-eml/classify"
	"github.com/dhcgn/pmmail-to-eml/model"
)

// StatsCmd analyses an archive tree without converting anything: every
// candidate file is classified and counted.
func StatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats [archive dir]",
		Short: "Classify the archive's message files and show statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source := args[0]
			fmt.Println("Analyzing archive:", source)

			byClass := map[model.Classification]int{}
			byFolder := map[string]int{}
			total := 0

			err := filepath.WalkDir(source, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return nil
				}
				if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".msg") {
					return nil
				}
				total++
				byClass[classify.File(path)]++
				rel, relErr := filepath.Rel(source, filepath.Dir(path))
				if relErr != nil {
					rel = filepath.Dir(path)
				}
				byFolder[rel]++
				return nil
			})
			if err != nil {
				return fmt.Errorf("walk archive: %w", err)
			}

			fmt.Printf("\nProcessed %d candidate files\n\n", total)
			fmt.Printf("Structured containers (Outlook MSG): %d\n", byClass[model.StructuredContainer])
			fmt.Printf("Plain text messages:                 %d\n", byClass[model.PlainText])
			fmt.Printf("Unknown binary:                      %d\n", byClass[model.UnknownBinary])

			if len(byFolder) > 0 {
				fmt.Println("\nMessages per folder:")
				printTop(byFolder, 20)
			}
			return nil
		},
	}
}

// printTop prints the top N most frequent entries of a counter map.
func printTop(m map[string]int, limit int) {
	type pair struct {
		Key   string
		Value int
	}

	var pairs []pair
	for k, v := range m {
		pairs = append(pairs, pair{k, v})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Value != pairs[j].Value {
			return pairs[i].Value > pairs[j].Value
		}
		return pairs[i].Key < pairs[j].Key
	})

	for i := 0; i < limit && i < len(pairs); i++ {
		fmt.Printf("%d. %s (%d)\n", i+1, pairs[i].Key, pairs[i].Value)
	}
}
