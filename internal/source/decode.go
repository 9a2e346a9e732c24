package source

import (
	"bufio"
	"bytes"
	"crypto/md5" //nolint:gosec // line fingerprint, not a security boundary
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Keys used by DecodeXML and DecodeCSV in the maps they produce.
const (
	// XMLTextKey holds the character data of an element that also has
	// attributes or children.
	XMLTextKey = "#text"

	// CSVLineHashKey holds the md5 hex digest of the raw CSV line a row was
	// decoded from. It identifies the row across polls.
	CSVLineHashKey = "#hash"
)

// DecodeJSON decodes a JSON document. Numbers are kept as json.Number so
// integers survive without float rounding.
func DecodeJSON(r io.Reader) (any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return v, nil
}

type xmlFrame struct {
	name     string
	children map[string]any
	text     strings.Builder
}

// DecodeXML converts an XML document into nested maps. Attributes become
// keys prefixed with "@". An element without attributes or children becomes
// its trimmed text; an empty one becomes nil. Repeated sibling elements, and
// every element named in forceList, become []any.
func DecodeXML(r io.Reader, forceList ...string) (any, error) {
	force := make(map[string]bool, len(forceList))
	for _, n := range forceList {
		force[n] = true
	}

	dec := xml.NewDecoder(r)
	var (
		stack []*xmlFrame
		root  map[string]any
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			f := &xmlFrame{name: t.Name.Local, children: make(map[string]any)}
			for _, a := range t.Attr {
				f.children["@"+a.Name.Local] = a.Value
			}
			stack = append(stack, f)
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
		case xml.EndElement:
			if len(stack) == 0 {
				return nil, fmt.Errorf("decode xml: unexpected end element %q", t.Name.Local)
			}
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			v := f.value()
			if len(stack) == 0 {
				root = map[string]any{f.name: v}
				if force[f.name] {
					root[f.name] = []any{v}
				}
				continue
			}
			addChild(stack[len(stack)-1].children, f.name, v, force[f.name])
		}
	}
	if root == nil {
		return nil, errors.New("decode xml: empty document")
	}
	return root, nil
}

func (f *xmlFrame) value() any {
	text := strings.TrimSpace(f.text.String())
	if len(f.children) == 0 {
		if text == "" {
			return nil
		}
		return text
	}
	if text != "" {
		f.children[XMLTextKey] = text
	}
	return f.children
}

func addChild(parent map[string]any, name string, v any, forceList bool) {
	existing, ok := parent[name]
	switch {
	case !ok && forceList:
		parent[name] = []any{v}
	case !ok:
		parent[name] = v
	default:
		if list, isList := existing.([]any); isList {
			parent[name] = append(list, v)
			return
		}
		parent[name] = []any{existing, v}
	}
}

// DecodeCSV decodes a delimited text table into a []any of row maps keyed by
// the header line. An optional leading "sep=X" line selects the delimiter;
// the default is ';'. Quotes around cells are removed. Every row map also
// carries CSVLineHashKey.
func DecodeCSV(r io.Reader) (any, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	sep := ';'
	var (
		header []string
		rows   = []any{}
		first  = true
	)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if first {
			first = false
			line = strings.TrimPrefix(line, "\ufeff")
			if rest, ok := strings.CutPrefix(line, "sep="); ok {
				if rest != "" {
					sep = []rune(rest)[0]
				}
				continue
			}
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		cells, err := splitCSVLine(line, sep)
		if err != nil {
			return nil, fmt.Errorf("decode csv: %w", err)
		}
		if header == nil {
			header = cells
			continue
		}
		row := make(map[string]any, len(header)+1)
		for i, h := range header {
			if i < len(cells) {
				row[h] = cells[i]
			}
		}
		sum := md5.Sum([]byte(line)) //nolint:gosec
		row[CSVLineHashKey] = hex.EncodeToString(sum[:])
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("decode csv: %w", err)
	}
	if header == nil {
		return nil, errors.New("decode csv: missing header line")
	}
	return rows, nil
}

func splitCSVLine(line string, sep rune) ([]string, error) {
	cr := csv.NewReader(bytes.NewBufferString(line))
	cr.Comma = sep
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	cells, err := cr.Read()
	if err != nil {
		return nil, err
	}
	for i, c := range cells {
		cells[i] = strings.Trim(strings.TrimSpace(c), `"`)
	}
	return cells, nil
}
