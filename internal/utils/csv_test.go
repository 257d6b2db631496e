package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecoStock/internal/domain"
)

func testSeries() *domain.Series {
	s := domain.NewSeries(7)
	s.Append(domain.Point{
		Candle: domain.Candle{Time: 1700000000, Open: decimal.RequireFromString("10.5"), High: decimal.NewFromInt(12), Low: decimal.NewFromInt(10), Close: decimal.NewFromInt(11)},
		Volume: domain.VolumeBar{Time: 1700000000, Value: decimal.NewFromInt(3), Color: domain.VolumeBuy},
	})
	s.Append(domain.Point{
		Candle: domain.Candle{Time: 1700000060, Open: decimal.NewFromInt(11), High: decimal.NewFromInt(11), Low: decimal.NewFromInt(11), Close: decimal.NewFromInt(11)},
		Volume: domain.EmptyVolume(1700000060),
	})
	return s
}

func TestWriteSeriesCSV(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, WriteSeriesCSV(&buf, testSeries()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "time,time_utc,symbol_id,open,high,low,close,volume,volume_color", lines[0])
	assert.Equal(t, "1700000000,2023-11-14T22:13:20Z,7,10.5,12,10,11,3,BUY", lines[1])
	assert.Equal(t, "1700000060,2023-11-14T22:14:20Z,7,11,11,11,11,0,EMPTY", lines[2])
}

func TestWriteSeriesCSV_Empty(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, WriteSeriesCSV(&buf, domain.NewSeries(1)))

	assert.Equal(t, "time,time_utc,symbol_id,open,high,low,close,volume,volume_color\n", buf.String())
}

func TestWriteSeriesToCSV_CreatesDirectory(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "nested", "series.csv")

	require.NoError(t, WriteSeriesToCSV(testSeries(), filename))

	data, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.Contains(t, string(data), "1700000060")
}
