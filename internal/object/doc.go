// Package object implements structural operations over ir values: deep
// freeze, deep equality, deep clone and a structural merge that can also
// produce undo and redo patches.
//
// The package knows nothing about epics or actions. Inputs are assumed to be
// acyclic; ir values built from decoded documents always are.
package object
