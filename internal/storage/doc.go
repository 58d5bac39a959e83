// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides conversation persistence.
//
// Two backends implement Store:
//
//   - FileStore: one JSON file per conversation plus index.json, under
//     ~/.thinkchat/conversations/
//   - SQLiteStore: a single thinkchat.db that also holds memory facts
//
// # Usage
//
//	store, err := storage.Open(cfg)
//	defer store.Close()
//
//	err = store.Set(ctx, conv)
//	metas, err := store.Index(ctx)
//	conv, err := store.Get(ctx, metas[0].ID)
//
// Missing conversations return ErrConversationNotFound; check with errors.Is.
//
// Export renders a conversation as Markdown, JSON or YAML.
package storage
