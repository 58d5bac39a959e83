// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across thinkchat.
//
// # Key Functions
//
//   - AtomicWriteFile: crash-safe, private-by-default file writing with fsync
//   - TruncateWidth, PadRight, StringWidth: display-width aware text for terminal columns
//   - OneLine: whitespace collapsing for previews and titles
package util
