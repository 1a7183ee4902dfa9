// Package reconciler keeps managed records in line with the triggers that
// match a policy.
//
// # Overview
//
// A Reconciler owns the records of exactly one policy. It subscribes to the
// trigger dispatcher under the policy's filter, enumerates the current
// matches and then follows Registered, Modified and Unregistered events,
// creating, re-templating and deleting records in the record store.
//
// The policy's multiplicity decides the shape of the mapping:
//
//   - PER_TRIGGER: one record per matched trigger, templated against it
//   - SHARED_LAZY: one record while at least one trigger matches
//   - SHARED_EAGER: one record at all times, even with no matches
//
// Shared records are templated against a template.Aggregate of all matched
// triggers, so {count}, {array:attr} and {concat:...} references see the
// whole set.
//
// # Architecture
//
//   - Reconciler: the per-policy state machine
//   - Manager: runs one Reconciler per policy file and retries failed
//     activations with exponential backoff
//   - FilesystemDetector: watches the policy directory with fsnotify
//
// Example usage:
//
//	r := reconciler.New("db", registry, store.NewMemoryStore(),
//	    reconciler.WithLogger(logging.ForSubsystem("Reconciler")))
//	if err := r.ApplyPolicy(ctx, policy); err != nil {
//	    return err
//	}
//	go r.Run(ctx)
//	defer r.Deactivate(context.Background())
//
// # Failure Handling
//
// Store and template failures are logged and counted but never abort the
// processing of other triggers. The mapping only changes after the store
// operation succeeded, and store calls are not retried: the next event or
// policy application for the affected trigger tries again. Records whose
// deletion failed are kept aside and retried whenever the policy is applied
// or the reconciler is deactivated.
//
// Writes whose resolved properties equal the last successful write are
// skipped, so re-applying an unchanged policy causes no store calls.
//
// # Tracing
//
// Policy applications and events each get an OpenTelemetry span
// (autoconf.apply_policy, autoconf.event) carrying the policy name, filter,
// event kind and trigger ID. Failed operations are recorded on the span.
package reconciler
