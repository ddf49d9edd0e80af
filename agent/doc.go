// Package agent implements the client-side agent session: a streaming tool
// loop over an in-memory workspace, with pluggable extensions, loadable
// skills, and slash-command prompt templates.
//
// A session pairs a model with the built-in filesystem tools and whatever
// tools its extensions register. One prompt turn may span several model
// round trips: text streams out as it arrives, requested tools execute
// between rounds (in parallel within a round), and their results feed the
// next round until the model answers without tool calls.
//
// The package uses the llm package's streaming adapters directly and runs
// its own turn loop to interleave tool execution, output truncation, event
// fan-out, and loop warnings.
//
// # Architecture
//
// The package is organized around these core concepts:
//
//   - Session: the single entry point presentation layers drive; owns the
//     conversation history, workspace filesystem, and registries, and runs
//     at most one turn at a time.
//   - Event: the closed set of turn events (text deltas, tool call
//     boundaries, turn end, error) streamed to the caller and fanned out to
//     extension listeners.
//   - Extension: pluggable capability loaded asynchronously at session
//     construction; registers tools, subscribes to events, and may request
//     user input through the installed handler.
//   - ToolRegistry: first-registration-wins tool set combining built-ins,
//     extension tools, and the skill reader.
//
// # Quick Start
//
//	session := agent.New(agent.Config{APIKey: key})
//	defer session.Close()
//
//	events, err := session.Prompt(ctx, "write a haiku to /haiku.txt")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for ev := range events {
//	    switch ev.Type {
//	    case agent.EventTextDelta:
//	        fmt.Print(ev.Delta)
//	    case agent.EventError:
//	        fmt.Fprintln(os.Stderr, ev.Message)
//	    }
//	}
package agent
