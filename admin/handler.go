// Package admin exposes the audited tables over HTTP: discovery of what
// is audited, per-row history listings, and the restore action the
// revert links of history entries point at.
package admin

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/ledgerline/histories"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// Handler serves the admin API
type Handler struct {
	plugin *histories.Plugin
	db     *gorm.DB
}

// NewHandler creates an admin handler over the given plugin and database
func NewHandler(plugin *histories.Plugin, db *gorm.DB) *Handler {
	return &Handler{plugin: plugin, db: db}
}

// tableInfo describes one audited table in the listing
type tableInfo struct {
	Table        string `json:"table"`
	HistoryTable string `json:"history_table"`
	DisplayName  string `json:"display_name"`
	Join         bool   `json:"join"`
}

// entryResponse wraps a history entry with its revert link
type entryResponse struct {
	histories.Entry
	RevertURL string `json:"revert_url"`
}

// HealthCheck returns the service health
// GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListTables lists the audited tables from the registry
// GET /api/v1/tables
func (h *Handler) ListTables(c *gin.Context) {
	registry := h.plugin.Registry()

	tables := make([]tableInfo, 0)
	for _, table := range registry.Tables() {
		reg, ok := registry.Lookup(table)
		if !ok {
			continue
		}
		tables = append(tables, tableInfo{
			Table:        table,
			HistoryTable: reg.History.Table,
			DisplayName:  reg.History.DisplayName,
			Join:         reg.IsJoin(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"tables": tables})
}

// GetRowHistory lists one row's history entries, newest first
// GET /api/v1/tables/:table/rows/:pk/history?limit=<limit>&offset=<offset>
func (h *Handler) GetRowHistory(c *gin.Context) {
	table := c.Param("table")
	key := c.Param("pk")
	limit, offset := pagination(c)

	entries, err := h.plugin.EntriesForKey(c.Request.Context(), h.db, table, key, limit, offset)
	if err != nil {
		if errors.Is(err, histories.ErrNotRegistered) {
			c.JSON(http.StatusNotFound, gin.H{"error": "table is not audited"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	base := requestBase(c)
	responses := make([]entryResponse, 0, len(entries))
	for _, entry := range entries {
		responses = append(responses, entryResponse{
			Entry:     entry,
			RevertURL: entry.RevertURL(base),
		})
	}
	c.JSON(http.StatusOK, gin.H{"entries": responses})
}

// RevertEntry restores the row to the state captured by one history
// entry. The restoring save is audited like any other mutation, so the
// revert itself shows up in the history.
// POST /api/v1/tables/:table/rows/:pk/history/:id/revert
func (h *Handler) RevertEntry(c *gin.Context) {
	table := c.Param("table")
	key := c.Param("pk")
	historyID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid history id"})
		return
	}

	ctx := c.Request.Context()
	entry, err := h.plugin.EntryByID(ctx, h.db, table, historyID)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, histories.ErrEntryNotFound) || errors.Is(err, histories.ErrNotRegistered) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	if entry.SourceKey != key {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry does not belong to this row"})
		return
	}

	if err := h.restore(ctx, entry, c.GetString(authSubjectKey)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"restored": true, "from": entry.ID})
}

// restore materializes the entry and writes it back to the live table.
// A still-existing row is updated; a deleted row is re-created.
func (h *Handler) restore(ctx context.Context, entry histories.Entry, actor string) error {
	reg, ok := h.plugin.Registry().Lookup(entry.Table)
	if !ok {
		return histories.ErrNotRegistered
	}

	instance := reflect.New(reg.Source.ModelType).Interface()
	if err := h.plugin.AsOf(entry, instance); err != nil {
		return err
	}

	db := h.db.WithContext(ctx)

	// one single-use chain per statement so the actor marker and the
	// existence probe never share clauses
	write := func() *gorm.DB {
		tx := h.db.WithContext(ctx)
		if actor != "" {
			tx = histories.WithActor(tx, actor)
		}
		return tx
	}

	existing := reflect.New(reg.Source.ModelType).Interface()
	err := db.Table(reg.Source.Table).
		Where(primaryKeyColumn(reg)+" = ?", entry.Values[primaryKeyColumn(reg)]).
		First(existing).Error
	switch {
	case err == nil:
		return write().Save(instance).Error
	case errors.Is(err, gorm.ErrRecordNotFound):
		return write().Create(instance).Error
	default:
		return err
	}
}

func primaryKeyColumn(reg *histories.Registration) string {
	return reg.Source.PrioritizedPrimaryField.DBName
}

// pagination parses limit/offset query parameters with sane bounds
func pagination(c *gin.Context) (limit, offset int) {
	limit = defaultPageLimit
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = min(parsed, maxPageLimit)
		}
	}
	if raw := c.Query("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			offset = parsed
		}
	}
	return limit, offset
}

// requestBase reconstructs the external base URL of the request
func requestBase(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host
}
