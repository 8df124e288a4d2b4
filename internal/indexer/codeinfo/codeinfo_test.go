package codeinfo

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/errors"
)

const sample = `{
  "source": {
    "com.acme.Orders": {
      "file": "src/main/java/com/acme/Orders.java",
      "methods": {
        "place": [
          {
            "signature": "place(Order)",
            "start_line": 12,
            "end_line": 30,
            "call_methods": [{"signature": "validate(Order)"}, {"signature": "save(Order)"}],
            "external_fields": [{"name": "repo"}]
          },
          {
            "signature": "place(Order,boolean)",
            "start_line": 32,
            "end_line": 40,
            "call_methods": [],
            "external_fields": []
          }
        ],
        "cancel": [
          {
            "signature": "cancel(Order)",
            "start_line": 42,
            "end_line": 50,
            "call_methods": [{"signature": "save(Order)"}],
            "external_fields": []
          }
        ]
      }
    },
    "com.acme.Audit": {
      "file": "src/main/java/com/acme/Audit.java",
      "methods": {
        "log": [
          {
            "signature": "log(String)",
            "start_line": 5,
            "end_line": 8,
            "call_methods": [],
            "external_fields": [{"name": "out"}]
          }
        ]
      }
    }
  }
}`

func TestParseFlattensInNameOrder(t *testing.T) {
	docs, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, docs, 4)

	assert.Equal(t, "com.acme.Audit", docs[0].ClassFQN)
	assert.Equal(t, "log(String)", docs[0].Signature)
	assert.Equal(t, []string{"out"}, docs[0].FieldTerms)
	assert.Nil(t, docs[0].CallTerms)

	assert.Equal(t, "cancel(Order)", docs[1].Signature)
	assert.Equal(t, "place(Order)", docs[2].Signature)
	assert.Equal(t, []string{"validate(Order)", "save(Order)"}, docs[2].CallTerms)
	assert.Equal(t, "src/main/java/com/acme/Orders.java", docs[2].File)
	assert.Equal(t, 12, docs[2].StartLine)
	assert.Equal(t, 30, docs[2].EndLine)
	assert.Equal(t, "place(Order,boolean)", docs[3].Signature)
}

func TestParseRejectsMalformedInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", "{"},
		{"no source", `{"classes": {}}`},
		{"no signature", `{"source": {"A": {"file": "A.java", "methods": {"m": [{"start_line": 1}]}}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		})
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orders.json")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0644))
	docs, err := ParseFile(path)
	require.NoError(t, err)
	assert.Len(t, docs, 4)

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestProjectName(t *testing.T) {
	assert.Equal(t, "commons-csv", ProjectName("/data/info/commons-csv.info.json"))
	assert.Equal(t, "lang", ProjectName("lang.json"))
	assert.Equal(t, "noext", ProjectName("noext"))
}
