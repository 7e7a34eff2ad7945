package catalog

import (
	"fmt"

	"sigs.k8s.io/yaml"

	"github.com/dc-tec/snaprepo-operator/internal/snapshotrepo"
)

// yamlCatalog is the YAML shape of a catalog:
//
//	defaults:
//	  host: es.internal
//	repositories:
//	  - name: backups
//	    location: /mnt/backups
type yamlCatalog struct {
	Defaults     attributes   `json:"defaults,omitempty"`
	Repositories []attributes `json:"repositories,omitempty"`
}

func parseYAML(filename string, data []byte) ([]snapshotrepo.Declaration, error) {
	var doc yamlCatalog
	if err := yaml.UnmarshalStrict(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", filename, err)
	}
	if err := checkDefaults(doc.Defaults); err != nil {
		return nil, fmt.Errorf("catalog %s: %w", filename, err)
	}

	decls := make([]snapshotrepo.Declaration, 0, len(doc.Repositories))
	for i, attrs := range doc.Repositories {
		source := fmt.Sprintf("%s:repositories[%d]", filename, i)

		name, err := stringValue("name", attrs["name"])
		delete(attrs, "name")
		if err != nil {
			decls = append(decls, snapshotrepo.Declaration{
				Source:   source,
				Resource: snapshotrepo.DeclaredResource{Source: source},
				Err:      err,
			})
			continue
		}
		decls = append(decls, declare(source, name, attrs, doc.Defaults))
	}
	return decls, nil
}
