// Package proc is the memory engine of memctl: it attaches to a running
// process, resolves pointer paths into addresses and reads, writes and
// freezes values inside the target's address space.
//
// proc implements all core functionality including:
// * binding to a process by name or pid, with re-attachment after restarts
// * multi-level pointer resolution for 32 and 64-bit targets
// * typed, string and raw byte access
// * page protection changes and remote allocation
// * background freezing of values
//
// The OS specific transfer primitives live in package native, which
// implements the Process and Finder interfaces declared here.
package proc
