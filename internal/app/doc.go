// Package app is the composition layer of shipyard. It builds the ledger
// services over their stores, attaches the chain and allow-list
// collaborators, and owns the lifecycle of background workers.
//
// # Package Structure
//
//	internal/app/
//	├── application.go   # Application struct, wiring, lifecycle
//	├── core/            # Keyed locks and service descriptors
//	├── domain/grant/    # Amount, Address, Round, Application, Allocation, ...
//	├── storage/         # Store interfaces and the in-memory implementation
//	├── services/        # rounds, applications, allocations, distribution,
//	│                    # funding, allowlist, stats
//	├── httpapi/         # REST surface and audit trail
//	├── system/          # Lifecycle manager
//	└── metrics/         # Prometheus collectors
//
// # Dependency Direction
//
//	cmd/shipyard/
//	      │
//	      ▼
//	internal/app (composition) ──► internal/config
//	      │
//	      ├──► services/* ──► storage, domain/grant, internal/errors
//	      │
//	      └──► internal/chain (Neo N3 RPC, GAS payer)
//
// Every mutation of a round's totals goes through rounds.Service.Mutate,
// which serialises it with the other mutations of that round. Services
// depend on each other through small interfaces declared where they are
// consumed.
package app
