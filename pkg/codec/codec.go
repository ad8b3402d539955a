// Package codec converts flow documents to and from their text forms and
// computes the content checksum used to detect changes between versions.
package codec

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/dukex/anyflow/pkg/models"
	"gopkg.in/yaml.v3"
	"lukechampine.com/blake3"
)

// Format names a text encoding of a flow document.
type Format string

const (
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// ErrUnsupportedFormat is returned for formats other than json, toml and yaml.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// ParseFormat maps a format name or file extension to a Format.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(name, ".")) {
	case "json":
		return FormatJSON, nil
	case "toml":
		return FormatTOML, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}
}

// FormatFromPath picks the format from the file extension of path.
func FormatFromPath(path string) (Format, error) {
	return ParseFormat(filepath.Ext(path))
}

// Marshal encodes the flow in the given format.
func Marshal(format Format, f *models.Flow) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(f, "", "  ")
	case FormatTOML:
		return MarshalTOML(f)
	case FormatYAML:
		return MarshalYAML(f)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// Unmarshal decodes a flow from the given format. The result is not
// validated.
func Unmarshal(format Format, data []byte) (*models.Flow, error) {
	switch format {
	case FormatJSON:
		var f models.Flow
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("failed to decode json document: %w", err)
		}

		return &f, nil
	case FormatTOML:
		return UnmarshalTOML(data)
	case FormatYAML:
		return UnmarshalYAML(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// MarshalTOML encodes the flow as TOML.
func MarshalTOML(f *models.Flow) ([]byte, error) {
	var buf bytes.Buffer

	enc := toml.NewEncoder(&buf)
	enc.Indent = ""

	if err := enc.Encode(fromFlow(f)); err != nil {
		return nil, fmt.Errorf("failed to encode toml document: %w", err)
	}

	return buf.Bytes(), nil
}

// UnmarshalTOML decodes a TOML flow document.
func UnmarshalTOML(data []byte) (*models.Flow, error) {
	var doc document

	md, err := toml.Decode(string(data), &doc)
	if err != nil {
		return nil, fmt.Errorf("failed to decode toml document: %w", err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("failed to decode toml document: unknown key %q", undecoded[0].String())
	}

	return doc.toFlow(), nil
}

// MarshalYAML encodes the flow as YAML.
func MarshalYAML(f *models.Flow) ([]byte, error) {
	var buf bytes.Buffer

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)

	if err := enc.Encode(fromFlow(f)); err != nil {
		return nil, fmt.Errorf("failed to encode yaml document: %w", err)
	}

	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode yaml document: %w", err)
	}

	return buf.Bytes(), nil
}

// UnmarshalYAML decodes a YAML flow document.
func UnmarshalYAML(data []byte) (*models.Flow, error) {
	var doc document

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode yaml document: %w", err)
	}

	return doc.toFlow(), nil
}

// Checksum returns the hex BLAKE3 digest of the flow content. The id,
// timestamps and owner are excluded, so two flows with the same nodes,
// edges and metadata hash alike.
func Checksum(f *models.Flow) (string, error) {
	doc := fromFlow(f)
	doc.ID = ""
	doc.Owner = ""
	doc.Username = ""
	doc.Variables = nonEmpty(doc.Variables)
	doc.Edges = nonEmpty(doc.Edges)

	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode document for checksum: %w", err)
	}

	sum := blake3.Sum256(data)

	return hex.EncodeToString(sum[:]), nil
}
