// Package service runs the external reconnaissance tools.
//
// Overview
// A Pipeline owns an ordered list of Stages, each wrapping a Command. For
// every accepted run request it records the Session, then starts the stages
// through a Starter (the Runner in production).
//
//	HTTP / scheduler       Pipeline              Runner{cmd}
//	      |                    |                      |
//	Run(req) ---------------->| store.SetActive       |
//	      |                    | discovery ---------->| exec.Start
//	      |                    |<------ Result -------| (process exits)
//	      |<--- RunResult -----|                      |
//	      |                    | receiver ----------->| exec.Start (detached)
//	      |                    | sleep(delay)         |
//	      |                    | scanner ------------>| exec.Start (detached)
//
// Runner is a thin wrapper around os/exec:
//   - starts the process in the base data directory
//   - forwards stdout and stderr line by line, tagged with the stage name
//   - delivers exactly one Result per started process
//
// Invariants:
//   - Discovery exits before the receiver starts.
//   - The scanner starts no sooner than its delay after the receiver start.
//     Nothing confirms the receiver is ready.
//   - Exit codes never change the flow: every stage runs regardless.
//   - A new run overwrites the active session, it does not cancel the
//     previous run.
//
// Cleanup consumes the active session and removes its working folder, it
// runs on shutdown.
package service
