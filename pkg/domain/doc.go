/*
Package domain contains the core models of the Sentinel orchestration
engine.

It defines the immutable State record threaded through the reasoning
graph, the device Action vocabulary, the capability result variants,
and the halt taxonomy. This package is kept pure and free of external
dependencies like I/O or persistence, following Hexagonal Architecture
principles.

# Key Entities

  - State: the per-turn snapshot (inputs, classification, capability
    outcomes, response, audit trail). Mutated only through With and
    Advance, which return fresh copies.
  - Action: the assistant's final device decision (CLICK, TYPE, ...).
  - CapabilityResult: closed set of capability outcomes.
  - LifecycleHooks: executor observability callbacks.
*/
package domain
