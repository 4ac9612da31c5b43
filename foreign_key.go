package histories

import (
	"fmt"

	"gorm.io/gorm/schema"
)

// downgradeForeignKey produces the history column for a foreign-key field:
// a plain scalar holding the referenced primary key's value, with the
// relational navigation and referential integrity removed.
//
// The referenced primary key's scalar configuration (data type, size,
// numeric precision and scale) is copied; relational and bookkeeping
// attributes — reverse-relation metadata, column naming, defaults,
// null/blank semantics, uniqueness and index flags — are explicitly not.
// The result is nullable and carries a plain index, so the history row
// survives deletion of the referenced row.
func downgradeForeignKey(f *schema.Field, rel *schema.Relationship) (Column, error) {
	pk, err := resolveReferencedPrimaryKey(f, rel, map[string]bool{})
	if err != nil {
		return Column{}, err
	}

	c := Column{
		Name:  f.DBName,
		Index: true,
	}

	if pk.AutoIncrement {
		// The referenced table owns the identity sequence; the history
		// side only stores the produced value.
		c.DataType = schema.Int
		c.Size = 64
		return c, nil
	}

	c.DataType = pk.DataType
	c.Size = pk.Size
	c.Precision = pk.Precision
	c.Scale = pk.Scale
	return c, nil
}

// resolveReferencedPrimaryKey walks a reference chain to the ultimate
// scalar primary key. When the referenced primary key is itself the
// foreign-key side of a belongs-to (a one-to-one chain), resolution
// recurses into the next schema. The visited set bounds recursion so
// cyclic declarations terminate at the first repeated table.
func resolveReferencedPrimaryKey(f *schema.Field, rel *schema.Relationship, seen map[string]bool) (*schema.Field, error) {
	ref := referenceFor(f, rel)
	if ref == nil || ref.PrimaryKey == nil {
		return nil, fmt.Errorf("histories: no reference resolves foreign key %s.%s", f.Schema.Table, f.DBName)
	}

	pk := ref.PrimaryKey
	target := pk.Schema
	if target == nil || seen[target.Table] {
		return pk, nil
	}
	seen[target.Table] = true

	for _, nested := range target.Relationships.BelongsTo {
		for _, nref := range nested.References {
			if nref.ForeignKey == pk && !nref.OwnPrimaryKey {
				return resolveReferencedPrimaryKey(pk, nested, seen)
			}
		}
	}

	return pk, nil
}

// referenceFor finds the reference binding f as a foreign key within rel
func referenceFor(f *schema.Field, rel *schema.Relationship) *schema.Reference {
	for _, ref := range rel.References {
		if ref.ForeignKey == f && !ref.OwnPrimaryKey {
			return ref
		}
	}
	return nil
}

// relationForField finds the relationship that uses f as its foreign key
// on the owning side, or nil when f is a plain scalar column.
func relationForField(s *schema.Schema, f *schema.Field) *schema.Relationship {
	for _, rel := range s.Relationships.Relations {
		for _, ref := range rel.References {
			if ref.ForeignKey == f && !ref.OwnPrimaryKey {
				return rel
			}
		}
	}
	return nil
}
