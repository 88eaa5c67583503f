// Package capture drives single scan attempts on a leased device.
//
// The pipeline is wait-for-finger, raw acquisition, quality scoring, then
// feature extraction — in that order, so low-quality frames never reach
// the extractor. Extraction failure is a distinct error from low quality.
package capture
