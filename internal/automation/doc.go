// Package automation implements the per-tab auto-send loop.
//
// A Runner drives one tab: it asks the planner how long to wait, picks the
// next message, dispatches it to the Page and waits (bounded) for evidence
// that the page actually sent it. Waiting and confirming are the only
// suspension points; dispatch is never interrupted.
package automation
