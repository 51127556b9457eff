package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"github.com/stevemurr/knowledge-vault/store"
)

// Load returns the text of the file at path. The format is picked by
// extension: .pdf, .html/.htm (converted to Markdown) and .xlsx are parsed,
// anything else must be UTF-8 text.
func Load(path string) (string, error) {
	var (
		text string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		text, err = loadPDF(path)
	case ".html", ".htm":
		text, err = loadHTML(path)
	case ".xlsx":
		text, err = loadSpreadsheet(path)
	default:
		text, err = loadText(path)
	}
	if err != nil {
		return "", fmt.Errorf("ingest: %s: %w", path, err)
	}
	return normalize(text), nil
}

func loadText(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("%w: not UTF-8 text", store.ErrInvalidArgument)
	}
	return string(b), nil
}

func loadPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		sb.WriteString(text)
		sb.WriteString("\n\n")
	}
	return strings.ToValidUTF8(sb.String(), "�"), nil
}

func loadHTML(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	converter := md.NewConverter("", true, nil)
	text, err := converter.ConvertString(strings.ToValidUTF8(string(b), "�"))
	if err != nil {
		return "", err
	}
	return text, nil
}

// loadSpreadsheet renders every sheet as "Sheet: name" followed by one line
// per row with cells joined by " | ".
func loadSpreadsheet(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var sb strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("sheet %s: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "Sheet: %s\n", sheet)
		for _, row := range rows {
			sb.WriteString(strings.Join(row, " | "))
			sb.WriteByte('\n')
		}
		sb.WriteByte('\n')
	}
	return strings.ToValidUTF8(sb.String(), "�"), nil
}

func normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\x00", "")
	return strings.TrimSpace(text)
}
