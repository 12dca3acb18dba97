package dsl

// Property is one field of a DataModel.
type Property struct {
	Type string `yaml:"type"`
}

// Index is a named index over one or more properties.
type Index struct {
	Fields []string `yaml:"fields"`
	Unique bool     `yaml:"unique"`
}

// ComputedField is a named derived field backed by a script expression.
type ComputedField struct {
	Expression string `yaml:"expression"`
}

// DataModelSpec is the `spec` block of a `kind: DataModel` file.
type DataModelSpec struct {
	Properties map[string]Property      `yaml:"properties"`
	Required   []string                 `yaml:"required"`
	Indexes    map[string]Index         `yaml:"indexes"`
	Computed   map[string]ComputedField `yaml:"computed"`
}

// ResolvedDataModel is a DataModel after inheritance merge.
type ResolvedDataModel struct {
	ID      NSID
	Version int
	Spec    DataModelSpec
}
