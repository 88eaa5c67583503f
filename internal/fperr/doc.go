// Package fperr defines the engine error taxonomy.
//
// Every terminal failure surfaced by the engine is an *Error carrying the
// numeric code, name, human-readable message, and structured details that
// the documented wire protocol expects. Codes are grouped by subsystem:
// 1xxx device lifecycle, 2xxx fingerprint/biometric, 3xxx storage, 5xxx
// system. Sentinel values support errors.Is matching by code.
package fperr
