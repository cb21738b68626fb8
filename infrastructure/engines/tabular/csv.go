package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ahrav/go-assay/internal/domain"
)

// ReadCSV parses a CSV document with a header row into a frame. Column
// types are inferred per column over all non-empty cells: int64 when every
// cell is an integer, float64 when every cell is numeric, bool when every
// cell is true or false, string otherwise. Empty cells become nil.
func ReadCSV(r io.Reader) (*Frame, error) {
	reader := csv.NewReader(r)

	headers, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to read CSV headers: %w", domain.ErrEmptyValue)
		}
		return nil, fmt.Errorf("failed to read CSV headers: %w", err)
	}
	for i, h := range headers {
		headers[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	var raw [][]string
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row %d: %w", len(raw)+2, err)
		}
		raw = append(raw, rec)
	}

	kinds := make([]cellKind, len(headers))
	for c := range headers {
		kinds[c] = inferCellKind(raw, c)
	}

	rows := make([][]any, len(raw))
	for i, rec := range raw {
		row := make([]any, len(headers))
		for c, cell := range rec {
			row[c] = convertCell(cell, kinds[c])
		}
		rows[i] = row
	}
	return NewFrame(headers, rows)
}

// LoadCSVFile reads a CSV file from disk.
func LoadCSVFile(path string) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer func() { _ = f.Close() }()

	frame, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return frame, nil
}

type cellKind int

const (
	kindString cellKind = iota
	kindInt
	kindFloat
	kindBool
)

func inferCellKind(rows [][]string, col int) cellKind {
	isInt, isFloat, isBool := true, true, true
	seen := false
	for _, rec := range rows {
		cell := rec[col]
		if cell == "" {
			continue
		}
		seen = true
		if isInt {
			if _, err := strconv.ParseInt(cell, 10, 64); err != nil {
				isInt = false
			}
		}
		if isFloat {
			if _, err := strconv.ParseFloat(cell, 64); err != nil {
				isFloat = false
			}
		}
		if isBool {
			l := strings.ToLower(cell)
			isBool = l == "true" || l == "false"
		}
		if !isInt && !isFloat && !isBool {
			return kindString
		}
	}
	switch {
	case !seen:
		return kindString
	case isInt:
		return kindInt
	case isFloat:
		return kindFloat
	case isBool:
		return kindBool
	}
	return kindString
}

func convertCell(cell string, kind cellKind) any {
	if cell == "" {
		return nil
	}
	switch kind {
	case kindInt:
		n, _ := strconv.ParseInt(cell, 10, 64)
		return n
	case kindFloat:
		f, _ := strconv.ParseFloat(cell, 64)
		return f
	case kindBool:
		return strings.EqualFold(cell, "true")
	}
	return cell
}
