// Package domain defines the core model shared by the policy framework:
// dependency classes and sets, troves and components, the build tree a
// policy run operates on, and the findings a run produces.
package domain
