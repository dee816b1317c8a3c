// Package sqlgen renders revision operations into DDL statements for one
// SQL dialect. Dialect drivers configure a Generator instead of writing
// their own rendering from scratch.
package sqlgen

import (
	"errors"
	"fmt"
	"strings"

	"github.com/root-talis/rensa/revision"
)

var (
	ErrUnsupportedOperation = errors.New("operation is not supported by this dialect")
	ErrIncompleteOperation  = errors.New("operation payload is incomplete")
)

// Generator renders ops for one dialect.
type Generator struct {
	// Quote escapes and quotes one identifier.
	Quote func(string) string

	// DropIndexNeedsTable selects the "DROP INDEX name ON table" form
	// (MySQL) over plain "DROP INDEX name".
	DropIndexNeedsTable bool

	// AlterConstraints reports whether the dialect can add or drop table
	// constraints after creation. SQLite cannot.
	AlterConstraints bool
}

// Statement renders one operation into a single DDL statement.
func (g Generator) Statement(op revision.Op) (string, error) { // nolint:cyclop
	if err := op.Validate(); err != nil {
		return "", err
	}

	table := g.Quote(op.Table)

	switch op.Kind {
	case revision.AddColumn:
		def, err := g.columnDef(op.Column)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", table, def), nil

	case revision.DropColumn:
		return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", table, g.Quote(op.Column.Name)), nil

	case revision.CreateTable:
		return g.createTable(op)

	case revision.DropTable:
		return fmt.Sprintf("DROP TABLE %s", table), nil

	case revision.AddConstraint:
		if !g.AlterConstraints {
			return "", fmt.Errorf("%w: add_constraint on an existing table", ErrUnsupportedOperation)
		}
		def, err := g.constraintDef(op.Constraint)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("ALTER TABLE %s ADD %s", table, def), nil

	case revision.DropConstraint:
		if !g.AlterConstraints {
			return "", fmt.Errorf("%w: drop_constraint on an existing table", ErrUnsupportedOperation)
		}
		return fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", table, g.Quote(op.Constraint.Name)), nil

	case revision.CreateIndex:
		unique := ""
		if op.Index.Unique {
			unique = "UNIQUE "
		}
		return fmt.Sprintf(
			"CREATE %sINDEX %s ON %s (%s)",
			unique, g.Quote(op.Index.Name), table, g.quoteAll(op.Index.Columns),
		), nil

	case revision.DropIndex:
		if g.DropIndexNeedsTable {
			return fmt.Sprintf("DROP INDEX %s ON %s", g.Quote(op.Index.Name), table), nil
		}
		return fmt.Sprintf("DROP INDEX %s", g.Quote(op.Index.Name)), nil
	}

	return "", fmt.Errorf("%w: %q", revision.ErrUnknownOpKind, op.Kind)
}

func (g Generator) createTable(op revision.Op) (string, error) {
	defs := make([]string, 0, len(op.Columns)+len(op.Constraints))

	for _, col := range op.Columns {
		def, err := g.columnDef(col)
		if err != nil {
			return "", err
		}
		defs = append(defs, def)
	}

	for _, cn := range op.Constraints {
		def, err := g.constraintDef(cn)
		if err != nil {
			return "", err
		}
		defs = append(defs, def)
	}

	return fmt.Sprintf("CREATE TABLE %s (%s)", g.Quote(op.Table), strings.Join(defs, ", ")), nil
}

// columnDef renders one column definition. Types and default expressions
// are passed through verbatim: the revision author writes them for the
// dialect they target.
func (g Generator) columnDef(col revision.Column) (string, error) {
	var b strings.Builder

	b.WriteString(g.Quote(col.Name))
	b.WriteString(" ")
	b.WriteString(col.Type)

	if col.PrimaryKey {
		b.WriteString(" PRIMARY KEY")
	} else if !col.Nullable {
		b.WriteString(" NOT NULL")
	}

	if col.Default != "" {
		b.WriteString(" DEFAULT ")
		b.WriteString(col.Default)
	}

	if col.References != nil {
		ref, err := g.referenceDef(col.References)
		if err != nil {
			return "", err
		}
		b.WriteString(" REFERENCES ")
		b.WriteString(ref)
	}

	return b.String(), nil
}

func (g Generator) constraintDef(cn revision.Constraint) (string, error) {
	prefix := fmt.Sprintf("CONSTRAINT %s ", g.Quote(cn.Name))

	switch cn.Kind {
	case revision.Check:
		if cn.Expr == "" {
			return "", fmt.Errorf("%w: check constraint %s has no expression", ErrIncompleteOperation, cn.Name)
		}
		return fmt.Sprintf("%sCHECK (%s)", prefix, cn.Expr), nil

	case revision.Unique:
		if len(cn.Columns) == 0 {
			return "", fmt.Errorf("%w: unique constraint %s has no columns", ErrIncompleteOperation, cn.Name)
		}
		return fmt.Sprintf("%sUNIQUE (%s)", prefix, g.quoteAll(cn.Columns)), nil

	case revision.PrimaryKey:
		if len(cn.Columns) == 0 {
			return "", fmt.Errorf("%w: primary key %s has no columns", ErrIncompleteOperation, cn.Name)
		}
		return fmt.Sprintf("%sPRIMARY KEY (%s)", prefix, g.quoteAll(cn.Columns)), nil

	case revision.ForeignKey:
		if len(cn.Columns) == 0 || cn.References == nil {
			return "", fmt.Errorf("%w: foreign key %s needs columns and a reference", ErrIncompleteOperation, cn.Name)
		}
		ref, err := g.referenceDef(cn.References)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%sFOREIGN KEY (%s) REFERENCES %s", prefix, g.quoteAll(cn.Columns), ref), nil
	}

	return "", fmt.Errorf("%w: constraint %s has unknown kind %q", ErrIncompleteOperation, cn.Name, cn.Kind)
}

func (g Generator) referenceDef(ref *revision.Reference) (string, error) {
	if ref.Table == "" || ref.Column == "" {
		return "", fmt.Errorf("%w: reference needs a table and a column", ErrIncompleteOperation)
	}

	result := fmt.Sprintf("%s (%s)", g.Quote(ref.Table), g.Quote(ref.Column))
	if ref.OnDelete != "" {
		result += " ON DELETE " + strings.ToUpper(ref.OnDelete)
	}

	return result, nil
}

func (g Generator) quoteAll(idents []string) string {
	quoted := make([]string, len(idents))
	for i, ident := range idents {
		quoted[i] = g.Quote(ident)
	}
	return strings.Join(quoted, ", ")
}
