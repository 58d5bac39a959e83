// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// # Key Types
//
//   - Conversation: ordered messages plus title and last-updated time
//   - Message: one turn's text, reasoning text, completion flag and timing
//   - Role: user, assistant, system
//
// # Usage
//
//	conv := model.NewConversation()
//	reply := model.NewAssistantMessage()
//	conv.AddMessage(model.NewUserMessage("Hello!"), reply)
//	reply.AppendContent("Hi", time.Now())
//	reply.Finish(time.Now())
package model
