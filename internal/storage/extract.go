package storage

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"mime"
	"net/url"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"

	"codeberg.org/readeck/go-readability/v2"
)

var textExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".json":     true,
	".xml":      true,
	".yaml":     true,
	".yml":      true,
}

// MediaType resolves the media type of obj from its content type, falling
// back to the key extension.
func MediaType(obj Object) string {
	if obj.ContentType != "" {
		if mt, _, err := mime.ParseMediaType(obj.ContentType); err == nil && mt != "application/octet-stream" {
			return mt
		}
	}
	ext := strings.ToLower(path.Ext(obj.Key))
	switch {
	case ext == ".html" || ext == ".htm":
		return "text/html"
	case ext == ".csv":
		return "text/csv"
	case textExtensions[ext]:
		return "text/plain"
	}
	return ""
}

// ExtractText turns a fetched object into ingestible text. HTML is reduced
// to its readable article text; other text types pass through.
func ExtractText(obj Object) (string, error) {
	mt := MediaType(obj)
	switch {
	case mt == "text/html" || mt == "application/xhtml+xml":
		pageURL := &url.URL{Scheme: "s3", Path: "/" + strings.TrimPrefix(obj.Key, "/")}
		article, err := readability.FromReader(bytes.NewReader(obj.Body), pageURL)
		if err != nil {
			return "", common.Validation("extract_text", "failed to parse html %s: %v", obj.Key, err)
		}
		var builder strings.Builder
		if err := article.RenderText(&builder); err != nil {
			return "", common.Validation("extract_text", "failed to render article text: %v", err)
		}
		return strings.TrimSpace(builder.String()), nil
	case mt == "text/csv":
		return normalizeCSV(obj)
	case strings.HasPrefix(mt, "text/") || mt == "application/json" || mt == "application/xml":
		if !utf8.Valid(obj.Body) {
			return "", common.Validation("extract_text", "object %s is not valid UTF-8", obj.Key)
		}
		return string(obj.Body), nil
	}
	return "", common.Validation("extract_text", "unsupported content type %q for %s", mt, obj.Key)
}

// normalizeCSV rewrites the rows of a CSV object with consistent quoting and
// drops blank or unparsable rows.
func normalizeCSV(obj Object) (string, error) {
	reader := csv.NewReader(bytes.NewReader(obj.Body))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var out strings.Builder
	writer := csv.NewWriter(&out)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue
		}
		if blankRecord(record) {
			continue
		}
		if err := writer.Write(record); err != nil {
			return "", common.Validation("extract_text", "failed to normalise csv %s: %v", obj.Key, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", common.Validation("extract_text", "failed to normalise csv %s: %v", obj.Key, err)
	}
	if out.Len() == 0 {
		return "", common.Validation("extract_text", "csv %s contains no rows", obj.Key)
	}
	return out.String(), nil
}

func blankRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
