package histories

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func openBare(t *testing.T, name string) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return db
}

func TestSuppressMarksChainOnly(t *testing.T) {
	db := openBare(t, "marker_suppress")

	tx := Suppress(db)
	assert.True(t, suppressed(tx))
	assert.False(t, suppressed(db.Session(&gorm.Session{NewDB: true})),
		"the marker must not leak off its chain")
}

func TestWithoutRecordingReadOnce(t *testing.T) {
	db := openBare(t, "marker_ctx")

	ctx := WithoutRecording(context.Background())
	tx := db.WithContext(ctx)

	assert.True(t, suppressed(tx), "first read consumes the marker")
	assert.False(t, suppressed(tx), "second read sees it spent")

	other := db.WithContext(WithoutRecording(context.Background()))
	assert.True(t, suppressed(other), "markers are independent per context")
}

func TestActorMarkers(t *testing.T) {
	db := openBare(t, "marker_actor")

	assert.Nil(t, actorFor(db.Session(&gorm.Session{NewDB: true})))

	tx := WithActor(db, "ops@example.com")
	actor := actorFor(tx)
	require.NotNil(t, actor)
	assert.Equal(t, "ops@example.com", *actor)

	ctxTx := db.WithContext(ActorContext(context.Background(), "batch-job"))
	actor = actorFor(ctxTx)
	require.NotNil(t, actor)
	assert.Equal(t, "batch-job", *actor)

	// the context marker is not consumed
	actor = actorFor(ctxTx)
	require.NotNil(t, actor)
	assert.Equal(t, "batch-job", *actor)

	// an empty actor is no attribution
	assert.Nil(t, actorFor(WithActor(db, "")))
}
