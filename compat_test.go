package ogórek

import (
	"testing"
)

func TestCompat(t *testing.T) {
	c := compat()

	for _, tt := range []struct {
		py2, py3 Class
	}{
		{Class{"__builtin__", "set"}, Class{"builtins", "set"}},
		{Class{"copy_reg", "_reconstructor"}, Class{"copyreg", "_reconstructor"}},
		{Class{"exceptions", "ValueError"}, Class{"builtins", "ValueError"}},
		{Class{"__builtin__", "xrange"}, Class{"builtins", "range"}},
		{Class{"itertools", "izip"}, Class{"builtins", "zip"}},
		{Class{"multiprocessing", "TimeoutError"}, Class{"multiprocessing.context", "TimeoutError"}},
		{Class{"Queue", "Queue"}, Class{"queue", "Queue"}},
		{Class{"decimal", "Decimal"}, Class{"decimal", "Decimal"}},
	} {
		if m, n := c.py2to3(tt.py2.Module, tt.py2.Name); (Class{m, n}) != tt.py3 {
			t.Errorf("py2to3 %v: got %s.%s; want %v", tt.py2, m, n, tt.py3)
		}
		if m, n := c.py3to2(tt.py3.Module, tt.py3.Name); (Class{m, n}) != tt.py2 {
			t.Errorf("py3to2 %v: got %s.%s; want %v", tt.py3, m, n, tt.py2)
		}
	}

	// one-way translations
	for _, tt := range []struct {
		from, to Class
		reverse  bool
	}{
		{Class{"__builtin__", "basestring"}, Class{"builtins", "str"}, false},
		{Class{"cPickle", "Pickler"}, Class{"pickle", "Pickler"}, false},
		{Class{"_functools", "reduce"}, Class{"__builtin__", "reduce"}, true},
		{Class{"builtins", "FileNotFoundError"}, Class{"exceptions", "OSError"}, true},
		{Class{"builtins", "ModuleNotFoundError"}, Class{"exceptions", "ImportError"}, true},
	} {
		translate := c.py2to3
		if tt.reverse {
			translate = c.py3to2
		}
		if m, n := translate(tt.from.Module, tt.from.Name); (Class{m, n}) != tt.to {
			t.Errorf("%v: got %s.%s; want %v", tt.from, m, n, tt.to)
		}
	}
}

func TestLoadCompat(t *testing.T) {
	for _, tt := range []struct {
		name string
		data string
	}{
		{"syntax", "import_mapping: [\n"},
		{"import not 1-1", "import_mapping:\n  a: x\n  b: x\n"},
		{"name not 1-1", "name_mapping:\n  - [a, n, x, n]\n  - [b, n, x, n]\n"},
	} {
		if _, err := loadCompat([]byte(tt.data)); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}

	c, err := loadCompat([]byte("import_mapping:\n  old: new\nextra_import_mapping:\n  older: new\n"))
	if err != nil {
		t.Fatal(err)
	}
	if m, _ := c.py2to3("older", "x"); m != "new" {
		t.Errorf("extra mapping: got %s", m)
	}
	if m, _ := c.py3to2("new", "x"); m != "old" {
		t.Errorf("reverse mapping: got %s", m)
	}
}
