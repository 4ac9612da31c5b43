package histories

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// createHistoryTable emits the history table and its indexes. All
// statements are idempotent (IF NOT EXISTS) so repeated startups against
// an existing database are harmless.
func createHistoryTable(db *gorm.DB, h *History) error {
	dialect := db.Dialector.Name()

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (", quoteIdent(dialect, h.Table))
	b.WriteString(historyIDColumnSQL(dialect))
	for _, c := range h.Columns {
		b.WriteString(", ")
		b.WriteString(columnSQL(dialect, c))
	}
	fmt.Fprintf(&b, ", %s %s NOT NULL", ColumnHistoryULID, sqlTypeFor(dialect, schema.String, 26))
	fmt.Fprintf(&b, ", %s %s NOT NULL", ColumnHistoryDate, sqlTypeFor(dialect, schema.Time, 0))
	fmt.Fprintf(&b, ", %s %s", ColumnHistoryActor, sqlTypeFor(dialect, schema.String, 0))
	fmt.Fprintf(&b, ", %s %s NOT NULL", ColumnHistoryType, sqlTypeFor(dialect, schema.String, 16))
	b.WriteString(")")

	if err := db.Exec(b.String()).Error; err != nil {
		return fmt.Errorf("histories: create table %s: %w", h.Table, err)
	}

	// Ordering index matching the default retrieval order.
	orderIdx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_order ON %s (%s, %s)",
		h.Table, quoteIdent(dialect, h.Table), ColumnHistoryDate, ColumnHistoryID)
	if err := db.Exec(orderIdx).Error; err != nil {
		return fmt.Errorf("histories: index table %s: %w", h.Table, err)
	}

	for _, c := range h.Columns {
		if !c.Index {
			continue
		}
		idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s)",
			h.Table, c.Name, quoteIdent(dialect, h.Table), quoteIdent(dialect, c.Name))
		if err := db.Exec(idx).Error; err != nil {
			return fmt.Errorf("histories: index table %s: %w", h.Table, err)
		}
	}

	return nil
}

// historyIDColumnSQL renders the auto-incrementing sequence-id primary key
func historyIDColumnSQL(dialect string) string {
	switch dialect {
	case "postgres":
		return ColumnHistoryID + " BIGSERIAL PRIMARY KEY"
	case "sqlite":
		return ColumnHistoryID + " INTEGER PRIMARY KEY AUTOINCREMENT"
	case "mysql":
		return ColumnHistoryID + " BIGINT AUTO_INCREMENT PRIMARY KEY"
	default:
		return ColumnHistoryID + " BIGINT PRIMARY KEY"
	}
}

func columnSQL(dialect string, c Column) string {
	var b strings.Builder
	b.WriteString(quoteIdent(dialect, c.Name))
	b.WriteString(" ")
	b.WriteString(columnType(dialect, c))
	if c.NotNull {
		b.WriteString(" NOT NULL")
	}
	return b.String()
}

func columnType(dialect string, c Column) string {
	if c.RawType != "" {
		return c.RawType
	}
	switch c.DataType {
	case schema.Float:
		if c.Precision > 0 {
			return fmt.Sprintf("NUMERIC(%d,%d)", c.Precision, c.Scale)
		}
		if dialect == "postgres" {
			return "DOUBLE PRECISION"
		}
		return "REAL"
	case "json", "jsonb":
		if dialect == "postgres" {
			return "JSONB"
		}
		return "TEXT"
	default:
		return sqlTypeFor(dialect, c.DataType, c.Size)
	}
}

// sqlTypeFor maps a GORM data type to a concrete column type per dialect
func sqlTypeFor(dialect string, dt schema.DataType, size int) string {
	switch dt {
	case schema.Bool:
		return "BOOLEAN"
	case schema.Int, schema.Uint:
		if dialect == "sqlite" {
			return "INTEGER"
		}
		if size > 0 && size <= 32 {
			return "INTEGER"
		}
		return "BIGINT"
	case schema.String:
		if size > 0 && dialect != "sqlite" {
			return fmt.Sprintf("VARCHAR(%d)", size)
		}
		return "TEXT"
	case schema.Time:
		switch dialect {
		case "postgres":
			return "TIMESTAMPTZ"
		case "sqlite":
			return "DATETIME"
		default:
			return "DATETIME(6)"
		}
	case schema.Bytes:
		switch dialect {
		case "postgres":
			return "BYTEA"
		case "sqlite":
			return "BLOB"
		default:
			return "LONGBLOB"
		}
	default:
		// custom scalar types keep their declared name when known
		if dt != "" {
			return string(dt)
		}
		return "TEXT"
	}
}

// quoteIdent quotes an identifier for the given dialect. MySQL uses
// backticks in its default SQL mode; everything else takes the
// standard double quotes.
func quoteIdent(dialect, name string) string {
	if dialect == "mysql" {
		return "`" + name + "`"
	}
	return `"` + name + `"`
}
