package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hurttlocker/cvegs/internal/match"
)

var (
	flagBatchInput       string
	flagBatchOutput      string
	flagBatchConcurrency int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Codify a CSV of vehicle records",
	Long: `Reads a CSV with a header row, discovers which columns hold the model year
and the description, and codifies every row. Column names do not matter;
role discovery handles headers like MODELO / anio / DESCRIPCION VEHICULO.

Results are written as a JSON object keyed by row number.

Example:
  cvegs batch --input vehicles.csv --output results.json --concurrency 8`,
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().StringVar(&flagBatchInput, "input", "", "Input CSV path (required)")
	batchCmd.Flags().StringVar(&flagBatchOutput, "output", "", "Output JSON path (default stdout)")
	batchCmd.Flags().IntVar(&flagBatchConcurrency, "concurrency", match.DefaultBatchConcurrency, "Parallel matches")
	_ = batchCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	records, err := readCSVRecords(flagBatchInput)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("no data rows in %s", flagBatchInput)
	}

	engine, closeStore, err := buildEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer closeStore()

	results, err := engine.MatchRecords(cmd.Context(), records, flagBatchConcurrency)
	if err != nil {
		return err
	}

	out := os.Stdout
	if flagBatchOutput != "" {
		f, err := os.Create(flagBatchOutput)
		if err != nil {
			return fmt.Errorf("creating output: %w", err)
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

// readCSVRecords loads a headered CSV into row-keyed field maps. Row keys are
// 1-based data row numbers, so results line up with the source file.
func readCSVRecords(path string) (map[string]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening input: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}

	records := make(map[string]map[string]string)
	for row := 1; ; row++ {
		fields, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV row %d: %w", row, err)
		}
		record := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(fields) {
				record[name] = fields[i]
			}
		}
		records[strconv.Itoa(row)] = record
	}
	return records, nil
}
