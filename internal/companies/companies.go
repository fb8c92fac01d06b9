// Package companies reads company lists from local files.
package companies

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrUnsupported is returned for file types without a company-list reader.
var ErrUnsupported = errors.New("unsupported file type")

// ReadFile extracts company names from a .txt, .csv or .pdf file.
func ReadFile(path string) ([]string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".txt":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return ParseText(f)
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return ParseCSV(f)
	case ".pdf":
		return ReadPDF(path)
	default:
		return nil, fmt.Errorf("%s: %w %q", filepath.Base(path), ErrUnsupported, ext)
	}
}

// ParseText returns one name per non-empty line, trimmed.
func ParseText(r io.Reader) ([]string, error) {
	var names []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if name := strings.TrimSpace(sc.Text()); name != "" {
			names = append(names, name)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading lines: %w", err)
	}
	return names, nil
}

// ParseCSV returns the first column of every row. A first row whose first
// cell is "name" or "company" (any case) is treated as a header.
func ParseCSV(r io.Reader) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var names []string
	for row := 0; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing csv: %w", err)
		}
		if len(rec) == 0 {
			continue
		}
		name := strings.TrimSpace(strings.TrimPrefix(rec[0], "\ufeff"))
		if row == 0 && isHeader(name) {
			continue
		}
		if name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

func isHeader(cell string) bool {
	switch strings.ToLower(cell) {
	case "name", "company", "company name", "company_name":
		return true
	}
	return false
}

// ReadPDF returns the non-empty text rows of every page.
func ReadPDF(path string) ([]string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	var names []string
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		rows, err := p.GetTextByRow()
		if err != nil {
			return nil, fmt.Errorf("reading page %d: %w", i, err)
		}
		for _, row := range rows {
			var b strings.Builder
			for _, word := range row.Content {
				b.WriteString(word.S)
			}
			if name := strings.TrimSpace(b.String()); name != "" {
				names = append(names, name)
			}
		}
	}
	return names, nil
}

// Upload is a file ready to send to the backend.
type Upload struct {
	Name string
	Data []byte
	// Companies is the list found locally, nil when the file type has no
	// reader or the file is sent unchanged.
	Companies []string
	// Converted is set when a PDF was turned into a plain-text list.
	Converted bool
}

// PrepareUpload loads path for upload. The backend only extracts companies
// from .txt files, so a PDF is converted into a .txt list first. Other files
// are sent unchanged.
func PrepareUpload(path string) (*Upload, error) {
	name := filepath.Base(path)
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		names, err := ReadPDF(path)
		if err != nil {
			return nil, err
		}
		if len(names) > 0 {
			return &Upload{
				Name:      strings.TrimSuffix(name, filepath.Ext(name)) + ".txt",
				Data:      []byte(strings.Join(names, "\n") + "\n"),
				Companies: names,
				Converted: true,
			}, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	u := &Upload{Name: name, Data: data}
	if strings.EqualFold(filepath.Ext(path), ".txt") {
		u.Companies, _ = ParseText(bytes.NewReader(data))
	}
	return u, nil
}
