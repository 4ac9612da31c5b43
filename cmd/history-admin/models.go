package main

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ledgerline/histories"
)

// The demo domain served by this binary: accounts owning widgets, and
// teams whose membership is audited through the join table.

// Account is a user of the demo domain
type Account struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"size:128;not null"`
	Email     string `gorm:"size:255;uniqueIndex"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Widget is an audited entity owned by an account
type Widget struct {
	ID         uint   `gorm:"primaryKey"`
	Name       string `gorm:"size:128;not null"`
	Attributes datatypes.JSON
	Avatar     histories.FilePath `gorm:"size:512"`
	OwnerID    *uint              `gorm:"index"`
	Owner      *Account
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Team groups accounts; membership changes are audited through the
// team_members join table.
type Team struct {
	ID      uint      `gorm:"primaryKey"`
	Name    string    `gorm:"size:128;not null"`
	Members []Account `gorm:"many2many:team_members"`
}

// setupDomain migrates the demo tables and registers them for auditing
func setupDomain(db *gorm.DB, plugin *histories.Plugin) error {
	if err := db.AutoMigrate(&Account{}, &Widget{}, &Team{}); err != nil {
		return err
	}

	if err := plugin.Register(db, &Account{}); err != nil {
		return err
	}
	if err := plugin.Register(db, &Widget{}); err != nil {
		return err
	}
	return plugin.Register(db, &Team{}, histories.WithManyToMany("Members"))
}
