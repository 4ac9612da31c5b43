// Package histories maintains append-only history tables for GORM models.
//
// For every registered model the plugin synthesizes a shadow table holding
// a copy of the model's columns (with identity, uniqueness and referential
// constraints stripped) plus audit metadata, and hooks the model's create,
// update and delete pipeline so that each mutation inserts exactly one
// history row inside the same transaction as the mutation itself.
// Designated many2many relations are shadowed through their join tables,
// so membership changes are recorded per added or removed pair.
package histories
