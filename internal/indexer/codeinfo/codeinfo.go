// Package codeinfo decodes the per-project extraction JSON produced by the
// Java analyzer into method documents ready for indexing.
package codeinfo

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/errors"
)

// File is the top-level extraction document.
type File struct {
	Source map[string]ClassInfo `json:"source"`
}

// ClassInfo describes one class and its methods, grouped by simple name to
// hold overloads.
type ClassInfo struct {
	File    string                  `json:"file"`
	Methods map[string][]MethodInfo `json:"methods"`
}

type MethodInfo struct {
	Signature      string       `json:"signature"`
	StartLine      int          `json:"start_line"`
	EndLine        int          `json:"end_line"`
	CallMethods    []CallMethod `json:"call_methods"`
	ExternalFields []FieldRef   `json:"external_fields"`
}

type CallMethod struct {
	Signature string `json:"signature"`
}

type FieldRef struct {
	Name string `json:"name"`
}

// Parse decodes an extraction document and flattens it into documents.
// Classes and method groups are visited in name order so doc ids are
// reproducible across builds.
func Parse(r io.Reader) ([]index.Document, error) {
	var f File
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decoding code info: %w", apperrors.Invalidf("%v", err))
	}
	if f.Source == nil {
		return nil, apperrors.Invalidf("code info has no %q object", "source")
	}

	classes := make([]string, 0, len(f.Source))
	for fqn := range f.Source {
		classes = append(classes, fqn)
	}
	sort.Strings(classes)

	var docs []index.Document
	for _, fqn := range classes {
		class := f.Source[fqn]
		names := make([]string, 0, len(class.Methods))
		for name := range class.Methods {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			for i, m := range class.Methods[name] {
				if m.Signature == "" {
					return nil, apperrors.Invalidf("%s.%s[%d]: missing signature", fqn, name, i)
				}
				docs = append(docs, toDocument(fqn, class.File, m))
			}
		}
	}
	return docs, nil
}

func toDocument(fqn, file string, m MethodInfo) index.Document {
	doc := index.Document{
		ClassFQN:  fqn,
		Signature: m.Signature,
		File:      file,
		StartLine: m.StartLine,
		EndLine:   m.EndLine,
	}
	if len(m.CallMethods) > 0 {
		doc.CallTerms = make([]string, 0, len(m.CallMethods))
		for _, c := range m.CallMethods {
			doc.CallTerms = append(doc.CallTerms, c.Signature)
		}
	}
	if len(m.ExternalFields) > 0 {
		doc.FieldTerms = make([]string, 0, len(m.ExternalFields))
		for _, fr := range m.ExternalFields {
			doc.FieldTerms = append(doc.FieldTerms, fr.Name)
		}
	}
	return doc
}

// ParseFile opens path and parses it.
func ParseFile(path string) ([]index.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening code info %s: %w", path, err)
	}
	defer f.Close()
	docs, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return docs, nil
}

// ProjectName derives a project name from a code-info file name: the part
// before the first dot, so "commons-csv.info.json" maps to "commons-csv".
func ProjectName(path string) string {
	base := filepath.Base(path)
	if i := strings.IndexByte(base, '.'); i > 0 {
		return base[:i]
	}
	return base
}
