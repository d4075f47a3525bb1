// Package jobobject groups OS processes under one job object handle.
//
// A Group admits processes (permanently, for the life of each process),
// applies a LimitRequest built from named options, reads accounting and limit
// records back, terminates all members, and waits for the group to drain via
// a completion port. All OS access goes through the System interface;
// NewSystem returns the Windows implementation, or a stub that fails every
// call on other platforms.
//
// A Group owns its handle: create it with CreateOrOpen and defer Close, or
// use With for scoped ownership.
package jobobject
