// Package match implements 1:1 verification and 1:N identification.
package match
