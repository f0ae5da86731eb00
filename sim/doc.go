// Package sim hosts a small in-process kernel that answers the same trap
// surface a real machine would: read, write, exit, getpid, fork, sleep, wait,
// shutdown, and exec.
//
// Every process the kernel runs is a goroutine driving a trap.Client whose
// Invoker is its own sim process. Fork is modelled by re-executing the child's
// program image against a log of the parent's syscall results, so the child
// reconstructs the parent's state deterministically up to the fork point and
// goes live from there.
//
// The simulator exists so process trees and console sessions can be exercised
// on a development host, without the target machine.
package sim
