package catalog

import (
	"fmt"
	"math/big"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	operatorerrors "github.com/dc-tec/snaprepo-operator/internal/errors"
	"github.com/dc-tec/snaprepo-operator/internal/snapshotrepo"
)

// hclCatalog is the top-level shape of an HCL (or HCL JSON) catalog:
//
//	defaults {
//	  host = "es.internal"
//	}
//
//	repository "backups" {
//	  location = "/mnt/backups"
//	}
//
// Block bodies stay undecoded so attribute values can be loosely typed.
type hclCatalog struct {
	Defaults     *hclDefaults    `hcl:"defaults,block"`
	Repositories []hclRepository `hcl:"repository,block"`
}

type hclDefaults struct {
	Body hcl.Body `hcl:",remain"`
}

type hclRepository struct {
	Name string   `hcl:"name,label"`
	Body hcl.Body `hcl:",remain"`
}

func parseHCL(filename string, data []byte, jsonSyntax bool) ([]snapshotrepo.Declaration, error) {
	parser := hclparse.NewParser()

	var (
		file  *hcl.File
		diags hcl.Diagnostics
	)
	if jsonSyntax {
		file, diags = parser.ParseJSON(data, filename)
	} else {
		file, diags = parser.ParseHCL(data, filename)
	}
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", filename, diags)
	}

	var doc hclCatalog
	if diags := gohcl.DecodeBody(file.Body, nil, &doc); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode catalog %s: %w", filename, diags)
	}

	var defaults attributes
	if doc.Defaults != nil {
		var err error
		defaults, err = evalAttributes(doc.Defaults.Body)
		if err != nil {
			return nil, fmt.Errorf("catalog %s: defaults: %w", filename, err)
		}
		if err := checkDefaults(defaults); err != nil {
			return nil, fmt.Errorf("catalog %s: %w", filename, err)
		}
	}

	decls := make([]snapshotrepo.Declaration, 0, len(doc.Repositories))
	for _, repo := range doc.Repositories {
		rng := repo.Body.MissingItemRange()
		source := fmt.Sprintf("%s:%d", filename, rng.Start.Line)

		attrs, err := evalAttributes(repo.Body)
		if err != nil {
			decls = append(decls, snapshotrepo.Declaration{
				Source:   source,
				Resource: snapshotrepo.DeclaredResource{Name: repo.Name, Source: source},
				Err:      err,
			})
			continue
		}
		decls = append(decls, declare(source, repo.Name, attrs, defaults))
	}
	return decls, nil
}

// evalAttributes evaluates every attribute of body without variables or
// functions.
func evalAttributes(body hcl.Body) (attributes, error) {
	attrs, diags := body.JustAttributes()
	if diags.HasErrors() {
		return nil, operatorerrors.NewValidationError("body", "", diags.Error())
	}

	out := make(attributes, len(attrs))
	for name, attr := range attrs {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, operatorerrors.NewValidationError(name, "", diags.Error())
		}
		v, err := ctyToAny(val)
		if err != nil {
			return nil, operatorerrors.NewValidationError(name, "", err.Error())
		}
		out[name] = v
	}
	return out, nil
}

func ctyToAny(v cty.Value) (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	if !v.IsKnown() {
		return nil, fmt.Errorf("value must be known")
	}

	switch v.Type() {
	case cty.String:
		return v.AsString(), nil
	case cty.Bool:
		return v.True(), nil
	case cty.Number:
		bf := v.AsBigFloat()
		if bf.IsInt() {
			if i, acc := bf.Int64(); acc == big.Exact {
				return i, nil
			}
		}
		f, _ := bf.Float64()
		return f, nil
	default:
		return nil, fmt.Errorf("unsupported %s value", v.Type().FriendlyName())
	}
}
