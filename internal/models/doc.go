// Package models defines domain entities and persistence interfaces for the Crossfade mixtape synthesis service.
//
// The package contains two categories of types:
//
// 1. Value types passed between components:
//   - [Track] : Unified track representation with per-provider links
//   - [AudioFeatures] : Normalized feature vector for scoring and sequencing
//   - [MixtapeIntent] : Validated, ephemeral form of a mixtape request
//   - [ArtistRef] : Lightweight profile artist reference
//
// 2. Persistent entities with full lifecycle management:
//   - [Connection] : Per-(user, provider) OAuth token custody
//   - [MusicProfile] : Aggregated taste profile, rebuilt wholesale
//   - [Playlist] : Synthesized track sequence with export bookkeeping
//   - [Conversation], [Message] : Append-only session ledger records
//
// All persistent entities implement the [Model] interface providing ID generation, timestamps, and validation.
// The [Repository] interface defines standard CRUD operations for database access.
package models
