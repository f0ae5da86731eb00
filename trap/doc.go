// Package trap provides the user-space interface to the kernel's raw
// system-call ABI.
//
// The single Invoker boundary carries a syscall number and up to three
// machine-word arguments into the kernel and yields the raw signed result
// register. Client wraps that boundary with typed calls that classify
// results into payloads and kernel error codes, keeping every layer above
// this package free of register-convention and architecture detail.
//
// This package carries no failure policy: a negative result becomes an
// Errno and is handed to the caller, which decides how to react.
package trap
