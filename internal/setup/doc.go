// Package setup locates the user level configuration and checks that the
// host can run builds.
package setup
