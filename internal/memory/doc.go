// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package memory keeps durable facts about the user across conversations.
//
// An Extractor asks the model for new facts after each user turn and writes
// them to a Store. Facts are deduplicated on their normalized text, so
// "Lives in Oslo." and "lives  in oslo" are the same fact. The stored facts
// are rendered into a system note for later requests.
//
// Two stores exist: FileStore in this package (one JSON file) and the SQLite
// store in package storage, which implements Store on its facts table.
package memory
