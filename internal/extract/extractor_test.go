package extract

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func workbook(t *testing.T, cells map[string]string) *excelize.File {
	t.Helper()
	f := excelize.NewFile()
	t.Cleanup(func() { _ = f.Close() })
	for cell, v := range cells {
		if err := f.SetCellValue("Sheet1", cell, v); err != nil {
			t.Fatal(err)
		}
	}
	return f
}

func TestExtractBytes(t *testing.T) {
	var sheet bytes.Buffer
	if _, err := workbook(t, map[string]string{"A1": "Food", "A2": "Lentils", "B2": "9g protein"}).WriteTo(&sheet); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name    string
		ext     string
		content []byte
		want    string
	}{
		{"text", ".txt", []byte("Drink water\nEat greens"), "Drink water\nEat greens"},
		{"markdown utf8", ".md", []byte("Cr\xc3\xa8me fra\xc3\xaeche"), "Crème fraîche"},
		{"invalid utf8", ".rst", []byte("iron\x80rich"), "iron\uFFFDrich"},
		{"byte order mark", ".TXT", append([]byte{0xEF, 0xBB, 0xBF}, "kiwi"...), "kiwi"},
		{"no extension", "", []byte("plain"), "plain"},
		{"spreadsheet", ".xlsx", sheet.Bytes(), "Food\nLentils\t9g protein"},
	}
	e := NewExtractor()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.ExtractBytes(tt.content, tt.ext)
			if err != nil {
				t.Fatalf("ExtractBytes: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtract_Files(t *testing.T) {
	dir := t.TempDir()
	notes := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(notes, []byte("Vitamin C supports iron absorption."), 0600); err != nil {
		t.Fatal(err)
	}
	table := filepath.Join(dir, "foods.xlsx")
	if err := workbook(t, map[string]string{"A1": "Spinach"}).SaveAs(table); err != nil {
		t.Fatal(err)
	}

	e := NewExtractor()
	for path, want := range map[string]string{notes: "Vitamin C supports iron absorption.", table: "Spinach"} {
		got, err := e.Extract(path)
		if err != nil {
			t.Fatalf("Extract(%s): %v", path, err)
		}
		if got != want {
			t.Errorf("Extract(%s) = %q, want %q", path, got, want)
		}
	}
	if _, err := e.Extract(filepath.Join(dir, "missing.txt")); err == nil {
		t.Error("expected error for a missing file")
	}
}

func TestExtractBytes_unknownExtension(t *testing.T) {
	e := NewExtractor()
	_, err := e.ExtractBytes([]byte("raw content"), ".xyz")
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestExtractBytes_html(t *testing.T) {
	page := []byte(`<html><head><title>Fiber</title><style>p{}</style></head>
<body><nav>Home | About</nav><h1>Dietary fiber</h1>
<p>Oats   and beans are <b>rich</b> in fiber.</p>
<script>track()</script><ul><li>Oats</li><li>Lentils</li></ul></body></html>`)
	e := NewExtractor()
	got, err := e.ExtractBytes(page, ".html")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	want := "Dietary fiber\nOats and beans are rich in fiber.\nOats\nLentils"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if title := HTMLTitle(page); title != "Fiber" {
		t.Errorf("title = %q", title)
	}
}

func TestExtractDocument_picksReader(t *testing.T) {
	e := NewExtractor()
	got, err := e.ExtractDocument("text/html; charset=utf-8", "https://example.com/a", []byte("<p>hello</p>"))
	if err != nil {
		t.Fatalf("ExtractDocument: %v", err)
	}
	if got != "hello" {
		t.Errorf("got %q", got)
	}
	got, err = e.ExtractDocument("text/plain", "https://example.com/a.txt", []byte("plain words"))
	if err != nil {
		t.Fatalf("ExtractDocument: %v", err)
	}
	if got != "plain words" {
		t.Errorf("got %q", got)
	}
	if _, err := e.ExtractDocument("application/pdf", "https://example.com/x", []byte("not a pdf")); err == nil {
		t.Error("expected PDF reader error for non-PDF bytes")
	}
}

func TestIsPDF(t *testing.T) {
	tests := []struct {
		contentType, url string
		want             bool
	}{
		{"application/pdf", "https://example.com/doc", true},
		{"application/octet-stream", "https://example.com/guide.PDF?dl=1", true},
		{"text/html", "https://example.com/page", false},
		{"", "https://example.com/pdf/page", false},
	}
	for _, tt := range tests {
		if got := IsPDF(tt.contentType, tt.url); got != tt.want {
			t.Errorf("IsPDF(%q, %q) = %v, want %v", tt.contentType, tt.url, got, tt.want)
		}
	}
}

func TestSupported(t *testing.T) {
	for _, p := range []string{"a.pdf", "b.HTML", "c.xlsx", "notes.md"} {
		if !Supported(p) {
			t.Errorf("Supported(%q) = false", p)
		}
	}
	for _, p := range []string{"a.docx", "b", "c.png"} {
		if Supported(p) {
			t.Errorf("Supported(%q) = true", p)
		}
	}
}

func TestReadURLColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.xlsx")
	f := workbook(t, map[string]string{
		"A1": "title", "B1": "URLs",
		"A2": "Protein guide", "B2": "https://example.com/protein.pdf",
		"B3": "  ",
		"B4": "https://drive.google.com/file/d/abc123/view",
	})
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}

	got, err := ReadURLColumn(path, "")
	if err != nil {
		t.Fatalf("ReadURLColumn: %v", err)
	}
	want := []string{"https://example.com/protein.pdf", "https://drive.google.com/file/d/abc123/view"}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("got %v, want %v", got, want)
	}

	if _, err := ReadURLColumn(path, "links"); err == nil {
		t.Error("expected error for missing column")
	}
}
