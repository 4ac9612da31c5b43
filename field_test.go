package histories

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/schema"
)

type fieldModel struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"size:128;not null"`
	Code      string `gorm:"size:24;unique"`
	Note      string `gorm:"index"`
	Payload   string `gorm:"type:jsonb"`
	Legacy    int64  `gorm:"type:bigserial"`
	Avatar    FilePath
	CreatedAt time.Time
}

func parseSchema(t *testing.T, model interface{}) *schema.Schema {
	t.Helper()
	s, err := schema.Parse(model, &sync.Map{}, schema.NamingStrategy{})
	require.NoError(t, err)
	return s
}

func TestTransformField(t *testing.T) {
	s := parseSchema(t, &fieldModel{})

	tests := []struct {
		name     string
		dbName   string
		validate func(*testing.T, Column)
	}{
		{
			name:   "auto-increment key becomes plain bigint with an index",
			dbName: "id",
			validate: func(t *testing.T, c Column) {
				assert.Equal(t, schema.Int, c.DataType)
				assert.Equal(t, 64, c.Size)
				assert.Empty(t, c.RawType)
				assert.True(t, c.Index)
				assert.False(t, c.NotNull)
			},
		},
		{
			name:   "size and not-null carry over",
			dbName: "name",
			validate: func(t *testing.T, c Column) {
				assert.Equal(t, schema.String, c.DataType)
				assert.Equal(t, 128, c.Size)
				assert.True(t, c.NotNull)
				assert.False(t, c.Index)
			},
		},
		{
			name:   "unique constraint downgrades to a plain index",
			dbName: "code",
			validate: func(t *testing.T, c Column) {
				assert.True(t, c.Index)
				assert.Equal(t, 24, c.Size)
			},
		},
		{
			name:   "indexed column stays indexed",
			dbName: "note",
			validate: func(t *testing.T, c Column) {
				assert.True(t, c.Index)
			},
		},
		{
			name:   "explicit column type carries over",
			dbName: "payload",
			validate: func(t *testing.T, c Column) {
				assert.Equal(t, "jsonb", c.RawType)
			},
		},
		{
			name:   "serial column types are not carried",
			dbName: "legacy",
			validate: func(t *testing.T, c Column) {
				assert.Empty(t, c.RawType)
				assert.Equal(t, schema.Int, c.DataType)
				assert.Equal(t, 64, c.Size)
			},
		},
		{
			name:   "file reference becomes plain text",
			dbName: "avatar",
			validate: func(t *testing.T, c Column) {
				assert.Equal(t, schema.String, c.DataType)
				assert.Zero(t, c.Size)
				assert.Empty(t, c.RawType)
			},
		},
		{
			name:   "auto-managed timestamp stays a plain time column",
			dbName: "created_at",
			validate: func(t *testing.T, c Column) {
				assert.Equal(t, schema.Time, c.DataType)
				assert.False(t, c.Index)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, ok := s.FieldsByDBName[tt.dbName]
			require.True(t, ok, "field %s not parsed", tt.dbName)
			c := transformField(f)
			assert.Equal(t, tt.dbName, c.Name)
			tt.validate(t, c)
		})
	}
}

func TestTransformFieldDoesNotMutateSource(t *testing.T) {
	s := parseSchema(t, &fieldModel{})
	f := s.FieldsByDBName["id"]

	before := *f
	_ = transformField(f)

	assert.Equal(t, before.DataType, f.DataType)
	assert.Equal(t, before.Size, f.Size)
	assert.Equal(t, before.PrimaryKey, f.PrimaryKey)
	assert.Equal(t, before.AutoIncrement, f.AutoIncrement)
}

func TestIsFilePathField(t *testing.T) {
	type pathModel struct {
		ID     uint `gorm:"primaryKey"`
		Avatar FilePath
		Doc    string `gorm:"type:path"`
		Name   string
	}
	s := parseSchema(t, &pathModel{})

	assert.True(t, isFilePathField(s.FieldsByDBName["avatar"]))
	assert.True(t, isFilePathField(s.FieldsByDBName["doc"]))
	assert.False(t, isFilePathField(s.FieldsByDBName["name"]))
}
