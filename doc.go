/*
Package sentinel is the conversation core of an on-device assistant:
a bounded graph executor over an immutable state record, structured
output extraction for model completions, bounded session persistence,
and per-conversation turn supersession.

The Engine wires these pieces together behind one call, RunTurn, which
takes a user query plus an optional screen context snapshot and drives
the default classify/plan/act/respond graph over a llama.cpp-style
completion backend. Every layer is replaceable through the ports
interfaces: the inference client, the capability host, the session
store, and the graph itself.

# Architecture

The core follows a hexagonal layout. pkg/domain holds the immutable
State record and the action and capability value types; pkg/graph runs
the bounded execution loop; pkg/extract recovers JSON from free-form
completions; pkg/ports declares the driven interfaces; pkg/session,
pkg/adapters/memory and pkg/adapters/redis implement the session
store; pkg/adapters/llamacpp implements the inference client. The
engine in this package is one consumer of those parts, and cmd/
sentinel is one consumer of the engine.

# Usage

	package main

	import (
		"context"
		"fmt"
		"log"

		"github.com/mazzlabs/sentinel"
	)

	func main() {
		eng, err := sentinel.New()
		if err != nil {
			log.Fatal(err)
		}

		state, err := eng.RunTurn(context.Background(),
			"conv-1", "set an alarm for 7am", "")
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(state.Response)
	}

Concurrent turns for different conversations run independently; a new
turn for the same conversation cancels and supersedes the one still in
flight, and only the newest turn's result is persisted.
*/
package sentinel
