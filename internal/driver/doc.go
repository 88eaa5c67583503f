// Package driver is the vendor SDK boundary.
//
// The engine never interprets fingerprint images or templates itself;
// everything biometric goes through the Driver interface. Two
// implementations ship: SourceAFIS wraps the real matching algorithm
// (github.com/jtejido/sourceafis) with CBOR-serialized templates, and
// Simulated is a scriptable stand-in for dev environments and tests.
package driver
