package histories

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/datatypes"
	pgdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// openPostgres connects to an external database when TEST_DB_HOST is set
// (CI or local development), otherwise starts a disposable container.
func openPostgres(t *testing.T) *gorm.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()
	var dsn string

	if dbHost := os.Getenv("TEST_DB_HOST"); dbHost != "" {
		dbPort := os.Getenv("TEST_DB_PORT")
		if dbPort == "" {
			dbPort = "5432"
		}
		dbUser := os.Getenv("TEST_DB_USER")
		if dbUser == "" {
			dbUser = "postgres"
		}
		dbPassword := os.Getenv("TEST_DB_PASSWORD")
		if dbPassword == "" {
			dbPassword = "postgres"
		}
		dbName := os.Getenv("TEST_DB_NAME")
		if dbName == "" {
			dbName = "test_db"
		}
		dsn = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			dbHost, dbPort, dbUser, dbPassword, dbName)
	} else {
		container, err := postgres.Run(ctx,
			"postgres:18-alpine",
			postgres.WithDatabase("test_db"),
			postgres.WithUsername("postgres"),
			postgres.WithPassword("postgres"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		require.NoError(t, err, "failed to start PostgreSQL container")
		t.Cleanup(func() {
			if err := container.Terminate(context.Background()); err != nil {
				t.Logf("failed to terminate PostgreSQL container: %v", err)
			}
		})

		dsn, err = container.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	db, err := gorm.Open(pgdriver.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return db
}

type pgWidget struct {
	ID         uint   `gorm:"primaryKey"`
	Name       string `gorm:"size:64"`
	Attributes datatypes.JSON
	Avatar     FilePath `gorm:"size:512"`
}

func TestPostgresEndToEnd(t *testing.T) {
	db := openPostgres(t)
	ctx := context.Background()

	p := New()
	require.NoError(t, db.Use(p))
	require.NoError(t, db.AutoMigrate(&pgWidget{}))
	require.NoError(t, p.Register(db, &pgWidget{}))

	t.Run("history table DDL", func(t *testing.T) {
		var columns []struct {
			ColumnName string
			DataType   string
		}
		err := db.Raw(`
			SELECT column_name, data_type
			FROM information_schema.columns
			WHERE table_name = 'pg_widgets_history'
		`).Scan(&columns).Error
		require.NoError(t, err)

		types := make(map[string]string, len(columns))
		for _, c := range columns {
			types[c.ColumnName] = c.DataType
		}
		assert.Equal(t, "bigint", types[ColumnHistoryID], "BIGSERIAL backing column")
		assert.Equal(t, "jsonb", types["attributes"])
		assert.Equal(t, "text", types["avatar"], "file reference downgraded to text")
		assert.Contains(t, types[ColumnHistoryDate], "timestamp")
	})

	t.Run("lifecycle recording", func(t *testing.T) {
		w := pgWidget{
			Name:       "first",
			Attributes: datatypes.JSON(`{"color":"red"}`),
			Avatar:     "uploads/a.png",
		}
		require.NoError(t, WithActor(db, "ops@example.com").Create(&w).Error)
		require.NoError(t, db.Model(&w).Update("name", "second").Error)
		require.NoError(t, db.Delete(&w).Error)

		entries, err := p.Entries(ctx, db, &w)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, ChangeTypeDeleted, entries[0].Type)
		assert.Equal(t, ChangeTypeChanged, entries[1].Type)
		assert.Equal(t, ChangeTypeCreated, entries[2].Type)
		require.NotNil(t, entries[2].Actor)
		assert.Equal(t, "ops@example.com", *entries[2].Actor)
		assert.JSONEq(t, `{"color":"red"}`, toString(entries[2].Values["attributes"]))
	})

	t.Run("rollback discards history", func(t *testing.T) {
		var before int64
		require.NoError(t, db.Table("pg_widgets_history").Count(&before).Error)

		err := db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&pgWidget{Name: "phantom"}).Error; err != nil {
				return err
			}
			return gorm.ErrInvalidTransaction
		})
		require.Error(t, err)

		var after int64
		require.NoError(t, db.Table("pg_widgets_history").Count(&after).Error)
		assert.Equal(t, before, after)
	})

	t.Run("repeated registration DDL is idempotent", func(t *testing.T) {
		p2 := New()
		require.NoError(t, p2.Register(db, &pgWidget{}))
	})
}
