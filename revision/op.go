package revision

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

type OpKind string

const (
	AddColumn      OpKind = "add_column"
	DropColumn     OpKind = "drop_column"
	CreateTable    OpKind = "create_table"
	DropTable      OpKind = "drop_table"
	AddConstraint  OpKind = "add_constraint"
	DropConstraint OpKind = "drop_constraint"
	CreateIndex    OpKind = "create_index"
	DropIndex      OpKind = "drop_index"
)

// ---

// Op is one tagged schema operation. Only the payload fields relevant to
// Kind are populated.
type Op struct {
	Kind        OpKind
	Table       string
	Column      Column       // AddColumn, DropColumn
	Columns     []Column     // CreateTable
	Constraints []Constraint // CreateTable (table-level)
	Constraint  Constraint   // AddConstraint, DropConstraint
	Index       Index        // CreateIndex, DropIndex
}

type Column struct {
	Name       string     `yaml:"name"`
	Type       string     `yaml:"type"`
	Nullable   bool       `yaml:"nullable"`
	Default    string     `yaml:"default"` // raw SQL expression, "" means none
	PrimaryKey bool       `yaml:"primary_key"`
	References *Reference `yaml:"references"`
}

type Reference struct {
	Table    string `yaml:"table"`
	Column   string `yaml:"column"`
	OnDelete string `yaml:"on_delete"`
}

type ConstraintKind string

const (
	Check      ConstraintKind = "check"
	Unique     ConstraintKind = "unique"
	ForeignKey ConstraintKind = "foreign_key"
	PrimaryKey ConstraintKind = "primary_key"
)

type Constraint struct {
	Name       string         `yaml:"name"`
	Kind       ConstraintKind `yaml:"kind"`
	Expr       string         `yaml:"expr"`    // check
	Columns    []string       `yaml:"columns"` // unique, primary_key, foreign_key
	References *Reference     `yaml:"references"`
}

type Index struct {
	Name    string   `yaml:"name"`
	Columns []string `yaml:"columns"`
	Unique  bool     `yaml:"unique"`
}

// ---

var (
	ErrUnknownOpKind = errors.New("unknown operation kind")
	ErrInvalidOp     = errors.New("operation is missing a required field")
	ErrNotInvertible = errors.New("downgrade is not a structural inverse of upgrade")
	ErrMalformedYaml = errors.New("operation must be a single-key mapping")
)

// opPayload is the YAML shape shared by all op kinds.
type opPayload struct {
	Table       string       `yaml:"table"`
	Column      Column       `yaml:"column"`
	Columns     []Column     `yaml:"columns"`
	Constraints []Constraint `yaml:"constraints"`
	Constraint  Constraint   `yaml:"constraint"`
	Index       Index        `yaml:"index"`
}

// UnmarshalYAML decodes the single-key form:
//
//	- add_column: {table: users, column: {name: active_title, type: "varchar(100)", nullable: true}}
func (o *Op) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode || len(value.Content) != 2 {
		return ErrMalformedYaml
	}

	kind := OpKind(value.Content[0].Value)

	var payload opPayload
	if err := value.Content[1].Decode(&payload); err != nil {
		return fmt.Errorf("failed to decode %q operation: %w", kind, err)
	}

	op := Op{
		Kind:        kind,
		Table:       payload.Table,
		Column:      payload.Column,
		Columns:     payload.Columns,
		Constraints: payload.Constraints,
		Constraint:  payload.Constraint,
		Index:       payload.Index,
	}

	if err := op.Validate(); err != nil {
		return err
	}

	*o = op

	return nil
}

// Validate checks that the fields required by Kind are present.
func (o Op) Validate() error { // nolint:cyclop
	if o.Table == "" {
		return fmt.Errorf("%w: table (%s)", ErrInvalidOp, o.Kind)
	}

	switch o.Kind {
	case AddColumn:
		if o.Column.Name == "" || o.Column.Type == "" {
			return fmt.Errorf("%w: column name and type (add_column on %s)", ErrInvalidOp, o.Table)
		}
	case DropColumn:
		if o.Column.Name == "" {
			return fmt.Errorf("%w: column name (drop_column on %s)", ErrInvalidOp, o.Table)
		}
	case CreateTable:
		if len(o.Columns) == 0 {
			return fmt.Errorf("%w: columns (create_table %s)", ErrInvalidOp, o.Table)
		}
	case DropTable:
		// table name is enough
	case AddConstraint, DropConstraint:
		if o.Constraint.Name == "" {
			return fmt.Errorf("%w: constraint name (%s on %s)", ErrInvalidOp, o.Kind, o.Table)
		}
	case CreateIndex, DropIndex:
		if o.Index.Name == "" {
			return fmt.Errorf("%w: index name (%s on %s)", ErrInvalidOp, o.Kind, o.Table)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOpKind, o.Kind)
	}

	return nil
}

// ---

// inverseKinds maps every op kind to the kind that structurally reverses it.
var inverseKinds = map[OpKind]OpKind{ // nolint:gochecknoglobals
	AddColumn:      DropColumn,
	DropColumn:     AddColumn,
	CreateTable:    DropTable,
	DropTable:      CreateTable,
	AddConstraint:  DropConstraint,
	DropConstraint: AddConstraint,
	CreateIndex:    DropIndex,
	DropIndex:      CreateIndex,
}

// Inverse returns the structural inverse of the operation. The payload is
// carried over so that the inverse of a destructive op can be rendered when
// the original definition is known.
func (o Op) Inverse() (Op, error) {
	kind, ok := inverseKinds[o.Kind]
	if !ok {
		return Op{}, fmt.Errorf("%w: %q", ErrUnknownOpKind, o.Kind)
	}

	inv := o
	inv.Kind = kind

	return inv, nil
}

// objectName returns the name of the schema object the op manipulates,
// for shape comparison.
func (o Op) objectName() string {
	switch o.Kind {
	case AddColumn, DropColumn:
		return o.Column.Name
	case AddConstraint, DropConstraint:
		return o.Constraint.Name
	case CreateIndex, DropIndex:
		return o.Index.Name
	case CreateTable, DropTable:
		return o.Table
	}
	return ""
}

// CheckUndo verifies that Down mirrors Up in reverse order at the shape
// level: each downgrade op must have the inverse kind of the corresponding
// upgrade op and target the same schema object. Payloads are allowed to
// differ (a downgrade may re-add a constraint with an older predicate).
func (r Revision) CheckUndo() error {
	if len(r.Down) != len(r.Up) {
		return fmt.Errorf(
			"%w: revision %s declares %d upgrade ops but %d downgrade ops",
			ErrNotInvertible, r.ID, len(r.Up), len(r.Down),
		)
	}

	for i, down := range r.Down {
		up := r.Up[len(r.Up)-1-i]

		expected, err := up.Inverse()
		if err != nil {
			return err
		}

		if down.Kind != expected.Kind || down.Table != up.Table || down.objectName() != up.objectName() {
			return fmt.Errorf(
				"%w: revision %s downgrade op %d is %s %q on %q, expected %s %q on %q",
				ErrNotInvertible, r.ID, i,
				down.Kind, down.objectName(), down.Table,
				expected.Kind, up.objectName(), up.Table,
			)
		}
	}

	return nil
}
