/*
Package ports defines the driven ports (interfaces) for the Sentinel engine.

These interfaces decouple the orchestration core from external implementations,
allowing the engine to work with various model runtimes, session backends, and
device capability surfaces.

# Key Interfaces

  - InferenceClient: Responsible for producing model completions (e.g., llama.cpp or a scripted fake).
  - Capabilities: Responsible for executing device capabilities requested during a turn.
  - SessionStore: Responsible for persisting conversation State between turns.
  - DistributedLocker: Provides distributed locking for handling concurrent session access.
*/
package ports
