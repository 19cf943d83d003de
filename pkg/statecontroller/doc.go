/*
Package statecontroller coordinates a partition's local database against
the snapshot store: OpenDB, CloseDB, and Recover manage the database's
lifecycle in the runtime directory; TakeTransientSnapshot runs the
five-step open-snapshot flow (check DB open, compute the snapshot
position, look up its log entry, reserve a transient snapshot, write it)
entirely on the controller's own actor.Actor, so a partition never has two
of these operations running at once.
*/
package statecontroller
