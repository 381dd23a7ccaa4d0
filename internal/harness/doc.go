// Package harness runs sync scenarios against the real repository and
// workers, with fake remotes that can be told to fail.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	surveys: ../surveys          # directory of CUE survey definitions
//	media: [front.jpg]           # photo files present before the flow
//	flow:
//	  - invoke: create_loi
//	    args: { survey: wells, job: inspect, loi: loi-1, lat: 1, lng: 2 }
//	  - invoke: submit
//	    args:
//	      survey: wells
//	      job: inspect
//	      loi: loi-1
//	      submission: sub-1
//	      answers: { notes: "dry", photo: front.jpg }
//	  - invoke: fail_commit
//	    args: { error: "unavailable" }
//	  - invoke: sync
//	    expect: { case: retry }
//	assertions:
//	  - type: trace_count
//	    action: commit
//	    count: 1
//	  - type: final_state
//	    table: mutations
//	    where: { location_of_interest_id: loi-1, type: LOCATION_OF_INTEREST }
//	    expect: { state: FAILED, retry_count: 1 }
//
// # Actions
//
// Edits: create_loi, update_loi, delete_loi, submit, update_submission,
// delete_submission. Worker passes: sync (metadata), upload_media. Survey
// pulls: pull_survey. Failure injection: fail_commit (next commit, or every
// commit touching args.path), fail_upload, clear_failures, remove_media.
//
// # Assertion Types
//
//   - trace_contains: An event with the action (and path) appears in the trace
//   - trace_order: Events appear in the given order ("action" or "action path")
//   - trace_count: An event appears exactly N times
//   - final_state: Queries a local table and verifies expected values
//   - remote_document: A document exists (or not) in the fake remote
//   - blob: An object exists (or not) in the fake blob store
//
// # Deterministic Testing
//
// Every scenario runs in a fresh in-memory store, with a step clock starting
// at Epoch and sequential generated ids, so that traces are identical across
// runs and can be compared against golden files with RunWithGolden.
package harness
