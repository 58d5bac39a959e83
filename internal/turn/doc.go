// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package turn drives a conversation one user message at a time.
//
// A Controller owns the in-memory conversation. Submit appends the user
// message and an open assistant message, chooses between a single streamed
// call and the multi-phase reasoning pipeline, applies every delta to the
// open message as it arrives, and finally closes the message, titles a new
// conversation and persists it. The assistant message is always closed, on
// success, error, cancellation or panic.
//
//	ctrl := turn.New(client, config.NewStatic(cfg)).WithStore(store)
//	ctrl.OnUpdate(func(m model.Message) { render(m) })
//	msg, err := ctrl.Submit(ctx, "Plan a 3-day trip", turn.Options{})
//
// Cancel aborts the turn in progress; the partial reply is kept and ends
// with an aborted marker.
package turn
