// Package output renders command results as tables, JSON or YAML.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

// Format represents the output format
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a format string
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "table", "":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("invalid output format: %s (valid: table, json, yaml)", s)
	}
}

// Formatter formats output in various formats
type Formatter struct {
	Format    Format
	NoHeaders bool
	Writer    io.Writer
	ErrWriter io.Writer
}

// NewFormatter creates a formatter writing to stdout.
func NewFormatter(format Format) *Formatter {
	return &Formatter{
		Format:    format,
		Writer:    os.Stdout,
		ErrWriter: os.Stderr,
	}
}

// Print outputs data as JSON or YAML. Table mode falls back to JSON.
func (f *Formatter) Print(data interface{}) error {
	switch f.Format {
	case FormatYAML:
		return f.printYAML(data)
	default:
		return f.printJSON(data)
	}
}

func (f *Formatter) printJSON(data interface{}) error {
	encoder := json.NewEncoder(f.Writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func (f *Formatter) printYAML(data interface{}) error {
	encoder := yaml.NewEncoder(f.Writer)
	encoder.SetIndent(2)
	defer func() { _ = encoder.Close() }()
	return encoder.Encode(data)
}

// TableData represents tabular data for table output
type TableData struct {
	Headers []string
	Rows    [][]string
}

// Render prints table in table mode and data otherwise.
func (f *Formatter) Render(data interface{}, table TableData) error {
	if f.Format == FormatTable {
		f.PrintTable(table)
		return nil
	}
	return f.Print(data)
}

// PrintTable prints formatted table output
func (f *Formatter) PrintTable(data TableData) {
	table := tablewriter.NewWriter(f.Writer)

	if !f.NoHeaders && len(data.Headers) > 0 {
		table.SetHeader(data.Headers)
	}

	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)

	table.AppendBulk(data.Rows)
	table.Render()
}

// PrintInfo prints a line in table mode only, keeping JSON and YAML output
// parseable.
func (f *Formatter) PrintInfo(format string, args ...interface{}) {
	if f.Format != FormatTable {
		return
	}
	_, _ = fmt.Fprintf(f.Writer, format+"\n", args...)
}

// PrintWarning prints a warning to the error writer.
func (f *Formatter) PrintWarning(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(f.ErrWriter, "Warning: "+format+"\n", args...)
}

// PrintKeyValue prints a key-value pair
func (f *Formatter) PrintKeyValue(key, value string) {
	switch f.Format {
	case FormatJSON:
		_ = f.printJSON(map[string]string{key: value})
	case FormatYAML:
		_ = f.printYAML(map[string]string{key: value})
	default:
		_, _ = fmt.Fprintf(f.Writer, "%s: %s\n", key, value)
	}
}

// Bytes formats a byte count for humans.
func Bytes(n uint64) string {
	return humanize.Bytes(n)
}

// Count formats an integer with thousands separators.
func Count(n int) string {
	return humanize.Comma(int64(n))
}

// Percent formats a ratio in [0,1] as a percentage.
func Percent(r float64) string {
	return fmt.Sprintf("%.1f%%", r*100)
}
