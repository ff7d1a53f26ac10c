package helpers

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"
	"text/tabwriter"
)

// OutputFormat is the rendering of command results.
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatCSV   OutputFormat = "csv"
)

// SupportedFormats lists every OutputFormat.
var SupportedFormats = []OutputFormat{FormatTable, FormatJSON, FormatCSV}

// Formatter writes a slice of structs. Table and CSV output use the fields
// carrying a `header` tag.
type Formatter interface {
	Format(rows any, w io.Writer) error
}

// NewFormatter returns the formatter for format.
func NewFormatter(format OutputFormat) (Formatter, error) {
	switch format {
	case FormatTable:
		return tableFormatter{}, nil
	case FormatJSON:
		return jsonFormatter{}, nil
	case FormatCSV:
		return csvFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

type jsonFormatter struct{}

func (jsonFormatter) Format(rows any, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

type tableFormatter struct{}

func (tableFormatter) Format(rows any, w io.Writer) error {
	headers, records, err := tabulate(rows)
	if err != nil || headers == nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	if _, err := fmt.Fprintln(tw, strings.Join(headers, "\t")); err != nil {
		return err
	}
	for _, r := range records {
		if _, err := fmt.Fprintln(tw, strings.Join(r, "\t")); err != nil {
			return err
		}
	}
	return tw.Flush()
}

type csvFormatter struct{}

func (csvFormatter) Format(rows any, w io.Writer) error {
	headers, records, err := tabulate(rows)
	if err != nil || headers == nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(headers); err != nil {
		return err
	}
	if err := cw.WriteAll(records); err != nil {
		return err
	}
	return cw.Error()
}

// tabulate extracts headers and string cells from a slice of structs or
// struct pointers. An empty slice yields nil headers.
func tabulate(rows any) ([]string, [][]string, error) {
	v := reflect.ValueOf(rows)
	if v.Kind() != reflect.Slice {
		return nil, nil, fmt.Errorf("rows must be a slice, got %s", v.Kind())
	}
	if v.Len() == 0 {
		return nil, nil, nil
	}

	elem := v.Type().Elem()
	if elem.Kind() == reflect.Ptr {
		elem = elem.Elem()
	}
	if elem.Kind() != reflect.Struct {
		return nil, nil, fmt.Errorf("rows must hold structs, got %s", elem.Kind())
	}

	var headers []string
	var fields []int
	for i := range elem.NumField() {
		if h := elem.Field(i).Tag.Get("header"); h != "" {
			headers = append(headers, h)
			fields = append(fields, i)
		}
	}

	records := make([][]string, 0, v.Len())
	for i := range v.Len() {
		row := reflect.Indirect(v.Index(i))
		cells := make([]string, len(fields))
		for j, f := range fields {
			cells[j] = fmt.Sprint(row.Field(f).Interface())
		}
		records = append(records, cells)
	}
	return headers, records, nil
}
