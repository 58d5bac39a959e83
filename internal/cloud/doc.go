// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud is the client for the hosted chat-completions endpoint.
//
// # Key Types
//
//   - Client: issues single calls, streaming or not, with retries and pacing
//   - Stream: an open streaming response, read with Next
//   - Decoder: turns SSE or concatenated-JSON bodies into Delta values
//   - Error: typed failure with a Kind (network, api, aborted, malformed)
//
// # Usage
//
//	client := cloud.NewClient(cloud.DefaultEndpoint).WithModel("openai")
//	err := client.StreamFunc(ctx, msgs, func(d cloud.Delta) {
//	    fmt.Print(d.Text)
//	})
//	if cloud.IsAborted(err) {
//	    // user pressed Ctrl-C; not a failure
//	}
package cloud
