// Package testdoubles provides spies for the observability interfaces and a failure-injecting
// document store, shared by the tests of several packages.
package testdoubles
