// Package coordinator drives a full distributed training run: it owns the
// canonical model, serves its parameters to workers, and folds the
// workers' results back into the model when the run finishes.
//
// # Overview
//
// The coordinator is the only component that holds a live model for the
// whole cluster. Workers receive an architecture descriptor and rebuild
// their own copies; every parameter they see travels through the
// parameter server the coordinator starts for the run.
//
// # Training lifecycle
//
// A call to Train walks through a fixed sequence:
//
//	┌────────────────────────────────────────────────┐
//	│                 COORDINATOR                    │
//	├────────────────────────────────────────────────┤
//	│                                                │
//	│  1. Validate the run configuration             │
//	│  2. Seed a parameter store from the model      │
//	│  3. Start the parameter server                 │
//	│  4. Wait until the server answers health       │
//	│     checks (the readiness barrier)             │
//	│  5. Partition the dataset, one slice per       │
//	│     worker                                     │
//	│  6. Dispatch workers through the Runner and    │
//	│     wait for all of them                       │
//	│  7. Fetch the final parameters and install     │
//	│     them into the canonical model              │
//	│  8. Stop the parameter server                  │
//	│                                                │
//	└────────────────────────────────────────────────┘
//
// Failed partitions are logged and do not abort the run; the final
// parameters reflect whatever the surviving workers contributed. A
// configuration error, an unbindable port, or a server that never
// becomes healthy aborts the run before any worker starts.
//
// # Serving predictions
//
// After Train returns, Predict and PredictClasses answer from the
// canonical model, which now holds the aggregated parameters. Both also
// work before training, answering from the model's initial state.
package coordinator
