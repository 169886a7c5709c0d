package store

import "gorm.io/gorm"

// Migrate applies the schema for every table this package owns. Called
// once from Open; safe to call again (gorm's AutoMigrate is additive).
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&edgeNodeRow{},
		&repoRow{},
		&repoAssignmentRow{},
		&artifactRow{},
		&transferSessionRow{},
		&transferChunkRow{},
		&chunkAvailabilityRow{},
		&peerConnectionRow{},
		&syncTaskRow{},
		&chunkBlobRow{},
		&chunkDescriptorRow{},
	)
}
