package utils

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"ecoStock/internal/domain"
)

var seriesHeader = []string{"time", "time_utc", "symbol_id", "open", "high", "low", "close", "volume", "volume_color"}

// WriteSeriesCSV writes one row per point of the series, oldest first.
func WriteSeriesCSV(w io.Writer, series *domain.Series) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(seriesHeader); err != nil {
		return err
	}
	symbolID := strconv.FormatInt(series.SymbolID, 10)
	for i := 0; i < series.Len(); i++ {
		p := series.At(i)
		c := p.Candle
		err := writer.Write([]string{
			strconv.FormatInt(c.Time, 10),
			time.Unix(c.Time, 0).UTC().Format(time.RFC3339),
			symbolID,
			c.Open.String(),
			c.High.String(),
			c.Low.String(),
			c.Close.String(),
			p.Volume.Value.String(),
			string(p.Volume.Color),
		})
		if err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteSeriesToCSV writes the series to filename, creating its directory.
func WriteSeriesToCSV(series *domain.Series, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", filename, err)
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := WriteSeriesCSV(file, series); err != nil {
		return fmt.Errorf("failed to write %s: %w", filename, err)
	}
	return file.Close()
}
