// Package proc provides attach/detach control, register access and
// word-granular memory access for a traced target process.
//
// All pure bookkeeping (backups, logical lengths, snapshot handling)
// lives in this package; the actual kernel interaction is confined
// behind the narrow Backend interface so the higher layers can be
// exercised against a simulated backend.
package proc
