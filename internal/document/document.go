// Package document reads notebooks stored as YAML files, the format pgctl
// runs from the command line:
//
//	name: analysis
//	cells:
//	  - type: markdown
//	    source: "# Load"
//	  - source: |
//	      import pandas as pd
//	      df = pd.read_csv("data.csv")
//	  - source: name = input()
//	    stdin: Ada
//
// A cell without a type is code. stdin pre-answers the cell's input() calls.
package document

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sakif/notebook-playground/internal/model"
)

// Document is a notebook file.
type Document struct {
	Name  string `yaml:"name"`
	Cells []Cell `yaml:"cells"`
}

// Cell is one entry of Document.Cells.
type Cell struct {
	ID     string         `yaml:"id,omitempty"`
	Type   model.CellType `yaml:"type,omitempty"`
	Source string         `yaml:"source"`
	Stdin  *string        `yaml:"stdin,omitempty"`
}

// Load reads and parses path.
func Load(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	doc, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Parse decodes a document and fills defaults: missing types become code and
// missing ids become cell-1, cell-2, ... Ids must be unique.
func Parse(r io.Reader) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty notebook document")
		}
		return nil, fmt.Errorf("parsing notebook: %w", err)
	}

	seen := make(map[string]bool, len(doc.Cells))
	for i := range doc.Cells {
		c := &doc.Cells[i]
		if c.Type == "" {
			c.Type = model.CellCode
		}
		if !c.Type.Valid() {
			return nil, fmt.Errorf("cell %d: unknown type %q", i+1, c.Type)
		}
		if c.ID == "" {
			c.ID = fmt.Sprintf("cell-%d", i+1)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("cell %d: duplicate id %q", i+1, c.ID)
		}
		seen[c.ID] = true
	}
	return &doc, nil
}

// Notebook converts the document into a model.Notebook bound to sessionID.
func (d *Document) Notebook(id, sessionID string) *model.Notebook {
	nb := &model.Notebook{
		ID:        id,
		Name:      d.Name,
		SessionID: sessionID,
		Cells:     make([]*model.Cell, 0, len(d.Cells)),
	}
	for i, c := range d.Cells {
		nb.Cells = append(nb.Cells, &model.Cell{
			ID:         c.ID,
			NotebookID: id,
			Position:   i,
			Type:       c.Type,
			Source:     c.Source,
		})
	}
	return nb
}

// Stdin returns the pre-answered input for cellID, if any.
func (d *Document) Stdin(cellID string) (string, bool) {
	for _, c := range d.Cells {
		if c.ID == cellID && c.Stdin != nil {
			return *c.Stdin, true
		}
	}
	return "", false
}
