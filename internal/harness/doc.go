// Package harness runs reconciliation scenarios against in-memory fakes.
//
// A scenario seeds a work item store and an issue tracker, feeds a
// sequence of webhook payloads through the engine, and checks the
// outcome of each delivery plus assertions over the final state. The
// ordered list of outcomes and the writes each one made is the trace;
// traces are compared against golden files.
//
// # Scenario Format
//
//	name: labeled_create
//	description: "An approved label creates exactly one work item"
//	options:
//	  project: Fabrikam
//	  cross_reference: true
//	records:
//	  - id: 1
//	    fields:
//	      System.Title: "[GitHub AzureDevOps Sync State]"
//	      System.Tags: "GitHub Issue; app"
//	      System.State: New
//	annotations:
//	  - record: 1
//	    author: alice@x.com
//	    text: '{"gitHubAlias":"alice","labels":["bug"]}'
//	issues:
//	  - repo: octo/app
//	    number: 7
//	    body: "steps..."
//	events:
//	  - payload: { action: labeled, label: { name: bug }, issue: {...}, repository: {...} }
//	    expect:
//	      action: created
//	      record_id: 2
//	assertions:
//	  - type: call_count
//	    method: Create
//	    count: 1
//
// # Assertion Types
//
//   - call_count: the store method was called exactly count times
//   - field_equals: a stored work item field has the given value
//   - issue_body_contains: the tracker's issue body contains text
//   - issue_updates: the issue body was written exactly count times
//
// # Determinism
//
// Fake ids start after the highest seeded record, trace events are
// numbered by delivery order, and traces are serialized as canonical
// JSON, so the same scenario always yields byte-identical traces.
package harness
