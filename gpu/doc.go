// Package gpu describes the narrow surface the suballocator and compaction pipeline need from a graphics device:
// buffer creation at a residency class, acceleration-structure prebuild size queries, and a command recorder
// that the caller submits on its own schedule.
//
// Nothing in this package inserts barriers. Callers are responsible for synchronizing GPU writes made by
// recorded build, query and copy commands with any later command that reads the same memory.
package gpu

//go:generate mockgen -destination=mocks/gpu.go -package=mocks . Device,Buffer,CommandRecorder
