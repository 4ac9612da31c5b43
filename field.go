package histories

import (
	"reflect"
	"strings"

	"gorm.io/gorm/schema"
)

var filePathType = reflect.TypeOf(FilePath(""))

// transformField produces a history-safe copy of one source column.
//
// Rules:
//   - auto-incrementing identity columns become plain 64-bit integers
//   - file-reference columns become plain text
//   - auto-managed timestamps are disabled so history rows keep the
//     source's recorded value instead of generating a fresh one
//   - primary-key and unique constraints are stripped; the column keeps a
//     plain index instead, since history may hold the same "unique" value
//     across many rows over time
//
// The input field is never mutated.
func transformField(f *schema.Field) Column {
	c := Column{
		Name:      f.DBName,
		DataType:  f.DataType,
		Size:      f.Size,
		Precision: f.Precision,
		Scale:     f.Scale,
		NotNull:   f.NotNull,
	}

	if rawType, ok := f.TagSettings["TYPE"]; ok {
		if strings.Contains(strings.ToLower(rawType), "serial") {
			// serial is an identity type; the history copy is a plain integer
			c.DataType = schema.Int
			c.Size = 64
		} else {
			c.RawType = rawType
		}
	}

	if f.AutoIncrement {
		c.DataType = schema.Int
		c.Size = 64
		c.RawType = ""
	}

	if isFilePathField(f) {
		c.DataType = schema.String
		c.Size = 0
		c.RawType = ""
	}

	// History rows copy the source's timestamps verbatim, so a formerly
	// auto-managed time column is just a plain time column here. The copy
	// drops the AutoCreateTime/AutoUpdateTime behavior by construction;
	// nothing extra to emit.

	if f.PrimaryKey || f.Unique {
		c.NotNull = f.NotNull && !f.AutoIncrement
		c.Index = true
	} else if _, ok := f.TagSettings["INDEX"]; ok {
		c.Index = true
	}

	return c
}

// isFilePathField reports whether the column stores a file reference
func isFilePathField(f *schema.Field) bool {
	if f.IndirectFieldType == filePathType {
		return true
	}
	return strings.EqualFold(f.TagSettings["TYPE"], "path")
}
