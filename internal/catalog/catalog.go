// Package catalog loads snapshot repository declarations from files, object
// storage or the Kubernetes API.
//
// File catalogs share one vocabulary across syntaxes. A defaults block holds
// connection attributes inherited by every repository; a repository block
// holds repository attributes and may override any connection attribute.
package catalog

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	operatorerrors "github.com/dc-tec/snaprepo-operator/internal/errors"
	"github.com/dc-tec/snaprepo-operator/internal/profile"
	"github.com/dc-tec/snaprepo-operator/internal/snapshotrepo"
)

// Source produces the declarations for one pass. A declaration that cannot be
// parsed is returned with its Err set; Load itself fails only when the
// catalog as a whole is unreadable.
type Source interface {
	Load(ctx context.Context) ([]snapshotrepo.Declaration, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]snapshotrepo.Declaration, error)

// Load calls f.
func (f SourceFunc) Load(ctx context.Context) ([]snapshotrepo.Declaration, error) {
	return f(ctx)
}

// Attribute names accepted in catalogs.
const (
	AttrEnsure                 = "ensure"
	AttrType                   = "type"
	AttrCompress               = "compress"
	AttrLocation               = "location"
	AttrChunkSize              = "chunk_size"
	AttrMaxRestoreBytesPerSec  = "max_restore_bytes_per_sec"
	AttrMaxSnapshotBytesPerSec = "max_snapshot_bytes_per_sec"

	AttrProtocol    = "protocol"
	AttrHost        = "host"
	AttrPort        = "port"
	AttrValidateTLS = "validate_tls"
	AttrCAFile      = "ca_file"
	AttrCAPath      = "ca_path"
	AttrTimeout     = "timeout"
	AttrUsername    = "username"
	AttrPassword    = "password"
)

var connectionAttrs = map[string]bool{
	AttrProtocol: true, AttrHost: true, AttrPort: true, AttrValidateTLS: true,
	AttrCAFile: true, AttrCAPath: true, AttrTimeout: true, AttrUsername: true, AttrPassword: true,
}

var repositoryAttrs = map[string]bool{
	AttrEnsure: true, AttrType: true, AttrCompress: true, AttrLocation: true,
	AttrChunkSize: true, AttrMaxRestoreBytesPerSec: true, AttrMaxSnapshotBytesPerSec: true,
}

// attributes is one block of a file catalog after syntax decoding. Values
// are nil, string, bool, int64 or float64.
type attributes map[string]any

// Parse decodes data according to the extension of filename.
func Parse(filename string, data []byte) ([]snapshotrepo.Declaration, error) {
	switch strings.ToLower(path.Ext(filename)) {
	case ".hcl":
		return parseHCL(filename, data, false)
	case ".json":
		return parseHCL(filename, data, true)
	case ".yaml", ".yml":
		return parseYAML(filename, data)
	default:
		return nil, operatorerrors.NewValidationError("catalog", filename, "unsupported catalog format, expected .hcl, .json, .yaml or .yml")
	}
}

func checkDefaults(defaults attributes) error {
	for _, key := range sortedKeys(defaults) {
		if !connectionAttrs[key] {
			return operatorerrors.NewValidationError("defaults."+key, "", "unsupported attribute in defaults")
		}
	}
	return nil
}

// declare merges a repository block with the catalog defaults and parses
// the result.
func declare(source, name string, attrs, defaults attributes) snapshotrepo.Declaration {
	decl := snapshotrepo.Declaration{
		Source:   source,
		Resource: snapshotrepo.DeclaredResource{Name: name, Source: source},
	}

	for _, key := range sortedKeys(attrs) {
		if !connectionAttrs[key] && !repositoryAttrs[key] {
			decl.Err = operatorerrors.NewValidationError(key, fmt.Sprint(attrs[key]), "unsupported attribute")
			return decl
		}
	}

	lookup := func(key string) any {
		if v, ok := attrs[key]; ok && v != nil {
			return v
		}
		return defaults[key]
	}

	raw := snapshotrepo.Raw{
		Name:     name,
		Compress: lookup(AttrCompress),
		Profile: profile.Raw{
			Protocol:    lookup(AttrProtocol),
			Host:        lookup(AttrHost),
			Port:        lookup(AttrPort),
			ValidateTLS: lookup(AttrValidateTLS),
			Timeout:     lookup(AttrTimeout),
		},
		Source: source,
	}

	fields := []struct {
		key string
		dst *string
	}{
		{AttrEnsure, &raw.Ensure},
		{AttrType, &raw.Type},
		{AttrLocation, &raw.Location},
		{AttrChunkSize, &raw.ChunkSize},
		{AttrMaxRestoreBytesPerSec, &raw.MaxRestoreBytesPerSec},
		{AttrMaxSnapshotBytesPerSec, &raw.MaxSnapshotBytesPerSec},
		{AttrCAFile, &raw.Profile.CAFile},
		{AttrCAPath, &raw.Profile.CAPath},
		{AttrUsername, &raw.Profile.Username},
		{AttrPassword, &raw.Profile.Password},
	}
	for _, f := range fields {
		v, err := stringValue(f.key, lookup(f.key))
		if err != nil {
			decl.Err = err
			return decl
		}
		*f.dst = v
	}

	decl.Resource, decl.Err = snapshotrepo.Parse(raw)
	return decl
}

// stringValue accepts strings and scalars that have an obvious string form.
func stringValue(field string, v any) (string, error) {
	switch s := v.(type) {
	case nil:
		return "", nil
	case string:
		return s, nil
	case int64:
		return strconv.FormatInt(s, 10), nil
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(s), nil
	default:
		return "", operatorerrors.NewValidationError(field, fmt.Sprint(v), "invalid parameter, expected string")
	}
}

func sortedKeys(m attributes) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
