// Package harness runs conformance scenarios against the query pipeline.
//
// A scenario names a query document, the result it must produce, and
// optionally a sequence of input updates applied through an engine session.
// Every scenario compiles, resolves, plans and evaluates its query exactly
// as the CLI does, so a passing scenario is evidence about the real engine.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: count_to_100
//	description: "Counting recursion converges after 101 rounds"
//	query: queries/count.cue        # relative to the scenario file
//	workers: 4                      # optional, defaults to 1
//	expect:
//	  rows:                         # expected result, as a multiset
//	    - [5050]
//	  rounds_at_most: 101
//	  explain_golden: golden/count_to_100.golden
//	updates:
//	  - description: "add an edge"
//	    changes:
//	      - relation: edges
//	        insert: [[3, 4]]
//	        delete: [[1, 2]]
//	    expect:
//	      rows: [[2], [4]]
//	      reused_loops: 0
//
// A scenario that expects a failure sets error_code (a diagnostic code such
// as SchemaMismatch, or a document validation code such as E110) and/or
// error_contains instead of rows. Failing scenarios cannot carry updates.
//
// # Deterministic Testing
//
// Runs use sequential run identifiers (testutil.SequentialRunIDs) and a
// fresh in-memory catalog built from the document's tables, so the same
// scenario always produces the same result and statistics.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/count.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(ctx, scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
