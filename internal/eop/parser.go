package eop

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
)

// finals2000A column spans (0-indexed, half open).
const (
	finalsMJDStart, finalsMJDEnd = 7, 15
	finalsXStart, finalsXEnd     = 18, 27
	finalsYStart, finalsYEnd     = 37, 46
	finalsUT1Start, finalsUT1End = 58, 68
	finalsLODStart, finalsLODEnd = 79, 86
)

// Parse reads an EOP file in the given format and returns its rows in file
// order. Blank lines and lines starting with '#' are skipped, as are C04
// header lines before the first data row. A malformed data row, or an epoch
// that does not increase, fails the whole parse.
func Parse(r io.Reader, format Format, logger *slog.Logger) ([]Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading EOP data: %w", err)
	}

	if format == FormatAuto {
		format, err = DetectFormat(data)
		if err != nil {
			return nil, err
		}
		logger.Debug("detected EOP format", "format", format.String())
	}

	var records []Record
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	started := false

	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r\n ")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}

		var (
			rec Record
			ok  bool
		)
		switch format {
		case FormatC04:
			if !started && !isC04DataLine(line) {
				continue // header
			}
			rec, err = parseC04Line(line)
			ok = err == nil
		case FormatFinals:
			rec, ok, err = parseFinalsLine(line)
		default:
			return nil, fmt.Errorf("%v: %w", format, ErrUnknownFormat)
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if !ok {
			// Finals files end with rows that carry no UT1 or polar motion yet.
			logger.Debug("EOP data ends before file end", "line", lineNo)
			break
		}
		started = true

		if n := len(records); n > 0 && !(rec.MJD > records[n-1].MJD) {
			return nil, fmt.Errorf("line %d: MJD %.2f after %.2f: %w", lineNo, rec.MJD, records[n-1].MJD, ErrNotMonotonic)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading EOP data: %w", err)
	}

	logger.Debug("parsed EOP data", "format", format.String(), "rows", len(records))
	return records, nil
}

// DetectFormat inspects the first data row of an EOP file.
func DetectFormat(data []byte) (Format, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n ")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if isC04DataLine(line) {
			return FormatC04, nil
		}
		if isFinalsDataLine(line) {
			return FormatFinals, nil
		}
	}
	return FormatAuto, fmt.Errorf("no recognizable data row: %w", ErrUnknownFormat)
}

// isC04DataLine reports whether a line starts with integer year, month, day
// and MJD fields.
func isC04DataLine(line string) bool {
	fields := strings.Fields(line)
	if len(fields) < 8 {
		return false
	}
	for _, f := range fields[:4] {
		if _, err := strconv.Atoi(f); err != nil {
			return false
		}
	}
	return true
}

func isFinalsDataLine(line string) bool {
	if len(line) < finalsUT1End {
		return false
	}
	mjd := strings.TrimSpace(line[finalsMJDStart:finalsMJDEnd])
	if !strings.Contains(mjd, ".") {
		return false
	}
	_, err := strconv.ParseFloat(mjd, 64)
	return err == nil
}

func parseC04Line(line string) (Record, error) {
	fields := strings.Fields(line)
	if len(fields) < 8 {
		return Record{}, fmt.Errorf("%d fields, want at least 8: %w", len(fields), ErrMalformed)
	}

	var vals [5]float64
	for i, f := range fields[3:8] {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return Record{}, fmt.Errorf("field %d %q: %w", i+4, f, ErrMalformed)
		}
		vals[i] = v
	}

	return Record{MJD: vals[0], X: vals[1], Y: vals[2], UT1UTC: vals[3], LOD: vals[4]}, nil
}

// parseFinalsLine returns ok=false for a well-formed row whose polar motion
// and UT1-UTC columns are still empty.
func parseFinalsLine(line string) (Record, bool, error) {
	if len(line) < finalsMJDEnd {
		return Record{}, false, fmt.Errorf("line length %d: %w", len(line), ErrMalformed)
	}

	mjd, err := finalsField(line, finalsMJDStart, finalsMJDEnd)
	if err != nil {
		return Record{}, false, fmt.Errorf("MJD: %w", err)
	}
	if blank(line, finalsXStart, finalsXEnd) || blank(line, finalsUT1Start, finalsUT1End) {
		return Record{}, false, nil
	}

	x, err := finalsField(line, finalsXStart, finalsXEnd)
	if err != nil {
		return Record{}, false, fmt.Errorf("PM-x: %w", err)
	}
	y, err := finalsField(line, finalsYStart, finalsYEnd)
	if err != nil {
		return Record{}, false, fmt.Errorf("PM-y: %w", err)
	}
	ut1, err := finalsField(line, finalsUT1Start, finalsUT1End)
	if err != nil {
		return Record{}, false, fmt.Errorf("UT1-UTC: %w", err)
	}

	// LOD is left blank on predicted rows.
	var lod float64
	if !blank(line, finalsLODStart, finalsLODEnd) {
		ms, err := finalsField(line, finalsLODStart, finalsLODEnd)
		if err != nil {
			return Record{}, false, fmt.Errorf("LOD: %w", err)
		}
		lod = ms / 1000.0
	}

	return Record{MJD: mjd, X: x, Y: y, UT1UTC: ut1, LOD: lod}, true, nil
}

func blank(line string, start, end int) bool {
	if len(line) <= start {
		return true
	}
	if end > len(line) {
		end = len(line)
	}
	return strings.TrimSpace(line[start:end]) == ""
}

func finalsField(line string, start, end int) (float64, error) {
	if end > len(line) {
		end = len(line)
	}
	if start >= end {
		return 0, fmt.Errorf("columns %d-%d missing: %w", start+1, end, ErrMalformed)
	}
	s := strings.TrimSpace(line[start:end])
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("columns %d-%d %q: %w", start+1, end, s, ErrMalformed)
	}
	return v, nil
}
