package commands

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vanntrong/qaserve-go/internal/engine"
	"github.com/vanntrong/qaserve-go/internal/logging"
)

// NewIngestCmd constructs the `qaserve ingest` command, which bulk-loads
// question/answer pairs from a CSV file.
func NewIngestCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Bulk-ingest question/answer pairs from a CSV file",
		Long: `Bulk-ingest question/answer pairs from a CSV file.

The file must have a header row with the columns "question" and "answer".
Rows that normalize to empty text or duplicate an existing pair are skipped
and counted; a batch where every row was skipped is an error.

Examples:
  qaserve ingest --file pairs.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if file == "" {
				return fmt.Errorf("ingest: --file is required")
			}

			pairs, err := readPairsCSV(file)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			a, closeAll, err := buildApp(ctx, log)
			if err != nil {
				return err
			}
			defer closeAll()

			res, err := a.engine.BulkIngest(ctx, pairs)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			log.Info("ingest finished",
				slog.Int("inserted", res.Inserted),
				slog.Int("skipped_empty", res.SkippedEmpty),
				slog.Int("skipped_duplicate", res.SkippedDuplicate),
			)
			fmt.Printf("inserted=%d skipped_empty=%d skipped_duplicate=%d\n",
				res.Inserted, res.SkippedEmpty, res.SkippedDuplicate)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "CSV file with a question,answer header")

	return cmd
}

// readPairsCSV parses a CSV file into pairs. The header row must contain
// "question" and "answer" columns (any order, extra columns ignored).
func readPairsCSV(path string) ([]engine.Pair, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	qCol, aCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "question":
			qCol = i
		case "answer":
			aCol = i
		}
	}
	if qCol < 0 || aCol < 0 {
		return nil, fmt.Errorf("header must contain question and answer columns, got %v", header)
	}

	var pairs []engine.Pair
	for line := 2; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(rec) <= qCol || len(rec) <= aCol {
			return nil, fmt.Errorf("line %d: missing question or answer column", line)
		}
		pairs = append(pairs, engine.Pair{Question: rec[qCol], Answer: rec[aCol]})
	}
	return pairs, nil
}
