package ogórek

import (
	_ "embed"
	"fmt"
	"sync"

	"sigs.k8s.io/yaml"
)

// Python 2 <-> Python 3 name translation, as done by Python's _compat_pickle.

//go:embed compat.yaml
var compatYAML []byte

type compatSource struct {
	ImportMapping             map[string]string `json:"import_mapping"`
	NameMapping               [][4]string       `json:"name_mapping"`
	Python2Exceptions         []string          `json:"python2_exceptions"`
	MultiprocessingExceptions []string          `json:"multiprocessing_exceptions"`
	ExtraImportMapping        map[string]string `json:"extra_import_mapping"`
	ExtraNameMapping          [][4]string       `json:"extra_name_mapping"`
	ExtraReverseImportMapping map[string]string `json:"extra_reverse_import_mapping"`
	ExtraReverseNameMapping   [][4]string       `json:"extra_reverse_name_mapping"`
	Python3OSErrorExceptions  []string          `json:"python3_oserror_exceptions"`
	Python3ImportErrorExcs    []string          `json:"python3_importerror_exceptions"`
}

// compatTables are the mappings ready for lookup.
type compatTables struct {
	importMapping        map[string]string // py2 module -> py3 module
	nameMapping          map[Class]Class   // py2 global -> py3 global
	reverseImportMapping map[string]string // py3 module -> py2 module
	reverseNameMapping   map[Class]Class   // py3 global -> py2 global
}

var compat = sync.OnceValue(func() *compatTables {
	t, err := loadCompat(compatYAML)
	if err != nil {
		panic(err)
	}
	return t
})

func loadCompat(data []byte) (*compatTables, error) {
	var src compatSource
	if err := yaml.Unmarshal(data, &src); err != nil {
		return nil, fmt.Errorf("compat: %w", err)
	}

	t := &compatTables{
		importMapping:        map[string]string{},
		nameMapping:          map[Class]Class{},
		reverseImportMapping: map[string]string{},
		reverseNameMapping:   map[Class]Class{},
	}
	for py2, py3 := range src.ImportMapping {
		t.importMapping[py2] = py3
		t.reverseImportMapping[py3] = py2
	}
	if len(t.reverseImportMapping) != len(t.importMapping) {
		return nil, fmt.Errorf("compat: import_mapping is not one-to-one")
	}

	names := src.NameMapping
	for _, exc := range src.Python2Exceptions {
		names = append(names, [4]string{"exceptions", exc, "builtins", exc})
	}
	for _, exc := range src.MultiprocessingExceptions {
		names = append(names, [4]string{"multiprocessing", exc, "multiprocessing.context", exc})
	}
	for _, m := range names {
		py2, py3 := Class{m[0], m[1]}, Class{m[2], m[3]}
		t.nameMapping[py2] = py3
		t.reverseNameMapping[py3] = py2
	}
	if len(t.reverseNameMapping) != len(t.nameMapping) {
		return nil, fmt.Errorf("compat: name_mapping is not one-to-one")
	}

	// one-way entries
	for py2, py3 := range src.ExtraImportMapping {
		t.importMapping[py2] = py3
	}
	for py3, py2 := range src.ExtraReverseImportMapping {
		t.reverseImportMapping[py3] = py2
	}
	for _, m := range src.ExtraNameMapping {
		t.nameMapping[Class{m[0], m[1]}] = Class{m[2], m[3]}
	}
	for _, m := range src.ExtraReverseNameMapping {
		t.reverseNameMapping[Class{m[0], m[1]}] = Class{m[2], m[3]}
	}
	for _, exc := range src.Python3OSErrorExceptions {
		t.reverseNameMapping[Class{"builtins", exc}] = Class{"exceptions", "OSError"}
	}
	for _, exc := range src.Python3ImportErrorExcs {
		t.reverseNameMapping[Class{"builtins", exc}] = Class{"exceptions", "ImportError"}
	}
	return t, nil
}

// py2to3 translates global name found in a Python 2 pickle.
func (t *compatTables) py2to3(module, name string) (string, string) {
	if c, ok := t.nameMapping[Class{module, name}]; ok {
		return c.Module, c.Name
	}
	if m, ok := t.importMapping[module]; ok {
		return m, name
	}
	return module, name
}

// py3to2 translates global name for a pickle to be read by Python 2.
func (t *compatTables) py3to2(module, name string) (string, string) {
	if c, ok := t.reverseNameMapping[Class{module, name}]; ok {
		return c.Module, c.Name
	}
	if m, ok := t.reverseImportMapping[module]; ok {
		return m, name
	}
	return module, name
}
