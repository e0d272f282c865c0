// Package tool defines the tool abstraction shared by planner and
// executor: a tool declares the parameters it requires, the values it
// exports, and whether invoking it mutates external state. The
// registry keeps registration order so dependency resolution is
// deterministic.
package tool
